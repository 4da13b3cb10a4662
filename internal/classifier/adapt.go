package classifier

import "strings"

// adaptiveWords is the primary/backup pair of adapted word lists. Once the
// primary fills up the recogniser starts a backup, and later switches to it
// so adaptation keeps tracking the current page.
type adaptiveWords struct {
	capacity int

	primary []string
	seen    map[string]bool

	collecting bool
	backup     []string
	backupSeen map[string]bool

	// version increases on every change to primary.
	version int
}

func newAdaptiveWords(capacity int) adaptiveWords {
	return adaptiveWords{capacity: capacity, seen: make(map[string]bool)}
}

func (a *adaptiveWords) full() bool { return len(a.primary) >= a.capacity }

func (a *adaptiveWords) add(word string) {
	if a.collecting && !a.backupSeen[word] && len(a.backup) < a.capacity {
		a.backup = append(a.backup, word)
		a.backupSeen[word] = true
	}
	if a.seen[word] || a.full() {
		return
	}
	a.primary = append(a.primary, word)
	a.seen[word] = true
	a.version++
}

func (a *adaptiveWords) startBackup() {
	a.collecting = true
	a.backup = nil
	a.backupSeen = make(map[string]bool)
}

func (a *adaptiveWords) switchToBackup() {
	a.primary, a.seen = a.backup, a.backupSeen
	if a.seen == nil {
		a.seen = make(map[string]bool)
	}
	a.collecting = false
	a.backup, a.backupSeen = nil, nil
	a.version++
}

// render is the user-words file body.
func (a *adaptiveWords) render() string {
	if len(a.primary) == 0 {
		return ""
	}
	return strings.Join(a.primary, "\n") + "\n"
}
