package conversation

// LoadState tracks whether a conversation's messages are in the transcript.
// At most one conversation is Loaded at a time: the one whose messages the
// transcript currently holds.
type LoadState int

const (
	Idle LoadState = iota
	Loading
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

func (d *Directory) LoadState(id string) LoadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads[id]
}

// BeginLoad moves id from Idle to Loading. It returns false when id is
// already Loading or Loaded, in which case the caller must not fetch.
func (d *Directory) BeginLoad(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loads[id] != Idle {
		return false
	}
	d.loads[id] = Loading
	return true
}

// MarkLoaded records that the transcript now holds id's messages.
func (d *Directory) MarkLoaded(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for other, st := range d.loads {
		if other != id && st == Loaded {
			delete(d.loads, other)
		}
	}
	d.loads[id] = Loaded
}

// ResetLoad returns id to Idle so the next sync fetches it again.
func (d *Directory) ResetLoad(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.loads, id)
}

// ResetIfLoaded returns id to Idle only when it is Loaded. A load in flight
// is left alone so it stays the only fetch for id.
func (d *Directory) ResetIfLoaded(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loads[id] == Loaded {
		delete(d.loads, id)
	}
}

// ResetLoaded clears whichever conversation is marked Loaded.
func (d *Directory) ResetLoaded() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, st := range d.loads {
		if st == Loaded {
			delete(d.loads, id)
		}
	}
}
