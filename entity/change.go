package entity

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
	// ChangePot signals an edit to pot settings that affect derived totals.
	ChangePot ChangeOp = "pot"
)

// EntryChange is one notification from the entry change stream. PotId may be
// empty for deletes observed without the document.
type EntryChange struct {
	PotId   string
	EntryId string
	Op      ChangeOp
}
