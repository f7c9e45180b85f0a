package dag

import "fmt"

// IntegrityError reports a CID mismatch or failed signature verification
// detected while ingesting a block.
type IntegrityError struct {
	Where string
}

func (e *IntegrityError) Error() string { return fmt.Sprintf("dag: integrity error: %s", e.Where) }

// MissingParentError reports a link whose target is not yet present in the
// store at ingest time: parents must be admitted before their children.
type MissingParentError struct {
	CID CID
}

func (e *MissingParentError) Error() string {
	return fmt.Sprintf("dag: missing parent %s", e.CID.String())
}

// NotFoundError reports a lookup for a CID the store does not contain.
type NotFoundError struct {
	CID CID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dag: not found %s", e.CID.String())
}
