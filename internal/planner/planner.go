// Package planner turns the combined index, the persisted state, and a remote
// listing into the decisions a sync run executes.
//
// Planning is pure: no remote calls, no state mutation. The combined index is
// the sole authority for what should exist remotely, modulo protected ids.
package planner

import (
	"sort"

	"github.com/mhadocs/docsync/internal/index"
	"github.com/mhadocs/docsync/internal/remote"
	"github.com/mhadocs/docsync/internal/state"
)

// Action is what a decision tells the engine to do with one document.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
	ActionDelete Action = "delete"
)

// Decision reasons.
const (
	ReasonNotInState    = "not-in-state"
	ReasonHashChanged   = "hash-changed"
	ReasonHashMatch     = "hash-match"
	ReasonNotInIndex    = "not-in-index"
	ReasonUnknownRemote = "unknown-remote-file"
)

// Decision is one planned action. RemoteID is set when the action touches an
// existing remote object: the object to replace on update, the object to
// remove on delete.
type Decision struct {
	ExternalID string
	Action     Action
	Reason     string
	RemoteID   string
}

// Plan compares every index document against state and decides create, update,
// or skip. Decisions come out in index order.
func Plan(idx *index.Index, store *state.Store) []Decision {
	decisions := make([]Decision, 0, len(idx.Documents))
	for _, doc := range idx.Documents {
		entry, ok := store.Get(doc.ExternalID)
		switch {
		case !ok:
			decisions = append(decisions, Decision{
				ExternalID: doc.ExternalID,
				Action:     ActionCreate,
				Reason:     ReasonNotInState,
			})
		case entry.ContentHash != doc.ContentHash:
			decisions = append(decisions, Decision{
				ExternalID: doc.ExternalID,
				Action:     ActionUpdate,
				Reason:     ReasonHashChanged,
				RemoteID:   entry.RemoteID,
			})
		default:
			decisions = append(decisions, Decision{
				ExternalID: doc.ExternalID,
				Action:     ActionSkip,
				Reason:     ReasonHashMatch,
				RemoteID:   entry.RemoteID,
			})
		}
	}
	return decisions
}

// DeletionOptions scope what PlanDeletions may touch.
type DeletionOptions struct {
	// Protected ids are never planned for deletion, whatever state or the
	// listing says. The manifest self-document belongs here.
	Protected []string
	// IncludeUnknown extends deletion to remote files with no recorded
	// identity. Off by default: an unknown file cannot be traced back to a
	// document, so removing it is opt-in.
	IncludeUnknown bool
}

// PlanDeletions decides which remote objects to remove. State is
// authoritative: every state entry whose id left the index is planned. The
// listing contributes remote files state knows nothing about — those with a
// readable identity not in the index, and, when IncludeUnknown is set, those
// with no identity at all. Order is deterministic: state-driven deletes sorted
// by id, then listing extras in listing order.
func PlanDeletions(idx *index.Index, store *state.Store, listing []remote.File, opts DeletionOptions) []Decision {
	protected := make(map[string]struct{}, len(opts.Protected))
	for _, id := range opts.Protected {
		protected[id] = struct{}{}
	}

	var decisions []Decision
	covered := make(map[string]struct{})

	stale := make([]string, 0)
	for _, externalID := range store.ExternalIDs() {
		if idx.Contains(externalID) {
			continue
		}
		if _, ok := protected[externalID]; ok {
			continue
		}
		stale = append(stale, externalID)
	}
	sort.Strings(stale)

	for _, externalID := range stale {
		entry, _ := store.Get(externalID)
		decisions = append(decisions, Decision{
			ExternalID: externalID,
			Action:     ActionDelete,
			Reason:     ReasonNotInIndex,
			RemoteID:   entry.RemoteID,
		})
		covered[entry.RemoteID] = struct{}{}
	}

	// Remote ids state still tracks are accounted for; only files outside
	// state are candidates from the listing.
	tracked := make(map[string]struct{}, store.Len())
	for _, externalID := range store.ExternalIDs() {
		entry, _ := store.Get(externalID)
		tracked[entry.RemoteID] = struct{}{}
	}

	for _, file := range listing {
		if _, ok := covered[file.RemoteID]; ok {
			continue
		}
		if _, ok := tracked[file.RemoteID]; ok {
			continue
		}

		if file.ExternalID != "" {
			if idx.Contains(file.ExternalID) {
				continue
			}
			if _, ok := protected[file.ExternalID]; ok {
				continue
			}
			decisions = append(decisions, Decision{
				ExternalID: file.ExternalID,
				Action:     ActionDelete,
				Reason:     ReasonNotInIndex,
				RemoteID:   file.RemoteID,
			})
			continue
		}

		if opts.IncludeUnknown {
			decisions = append(decisions, Decision{
				Action:   ActionDelete,
				Reason:   ReasonUnknownRemote,
				RemoteID: file.RemoteID,
			})
		}
	}

	return decisions
}
