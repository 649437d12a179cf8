package operations

import (
	"encoding/json"
	"fmt"
)

// CreateAlias binds AliasName to CollectionName.
type CreateAlias struct {
	CollectionName CollectionID `json:"collection_name"`
	AliasName      string       `json:"alias_name"`
}

// DeleteAlias unbinds AliasName.
type DeleteAlias struct {
	AliasName string `json:"alias_name"`
}

// RenameAlias re-binds the collection of OldAliasName under NewAliasName.
type RenameAlias struct {
	OldAliasName string `json:"old_alias_name"`
	NewAliasName string `json:"new_alias_name"`
}

// AliasAction discriminates the alias mutations.
type AliasAction string

const (
	AliasCreate AliasAction = "create_alias"
	AliasDelete AliasAction = "delete_alias"
	AliasRename AliasAction = "rename_alias"
)

// AliasOperation is one alias mutation. Exactly one of the payload pointers is
// set and Action names it.
type AliasOperation struct {
	Action      AliasAction  `json:"action"`
	CreateAlias *CreateAlias `json:"create_alias,omitempty"`
	DeleteAlias *DeleteAlias `json:"delete_alias,omitempty"`
	RenameAlias *RenameAlias `json:"rename_alias,omitempty"`
}

func NewCreateAlias(collection, alias string) AliasOperation {
	return AliasOperation{Action: AliasCreate, CreateAlias: &CreateAlias{CollectionName: collection, AliasName: alias}}
}

func NewDeleteAlias(alias string) AliasOperation {
	return AliasOperation{Action: AliasDelete, DeleteAlias: &DeleteAlias{AliasName: alias}}
}

func NewRenameAlias(oldAlias, newAlias string) AliasOperation {
	return AliasOperation{Action: AliasRename, RenameAlias: &RenameAlias{OldAliasName: oldAlias, NewAliasName: newAlias}}
}

// shape returns the action implied by which payload is present, and how many
// payloads are present.
func (a AliasOperation) shape() (AliasAction, int) {
	var action AliasAction
	n := 0
	if a.CreateAlias != nil {
		action = AliasCreate
		n++
	}
	if a.DeleteAlias != nil {
		action = AliasDelete
		n++
	}
	if a.RenameAlias != nil {
		action = AliasRename
		n++
	}
	return action, n
}

func (a AliasOperation) Validate() error {
	action, n := a.shape()
	if n != 1 {
		return fmt.Errorf("%w, got %d", ErrAliasActionShape, n)
	}
	if a.Action != action {
		return invalid("action", "%q does not match payload %q", a.Action, action)
	}
	switch action {
	case AliasCreate:
		if err := validateName("create_alias.collection_name", a.CreateAlias.CollectionName); err != nil {
			return err
		}
		return validateName("create_alias.alias_name", a.CreateAlias.AliasName)
	case AliasDelete:
		return validateName("delete_alias.alias_name", a.DeleteAlias.AliasName)
	default:
		if err := validateName("rename_alias.old_alias_name", a.RenameAlias.OldAliasName); err != nil {
			return err
		}
		return validateName("rename_alias.new_alias_name", a.RenameAlias.NewAliasName)
	}
}

type aliasOperationJSON AliasOperation

// UnmarshalJSON accepts payloads with or without the action discriminant. The
// payload must match exactly one action shape; when a discriminant is present
// it must agree with that shape.
func (a *AliasOperation) UnmarshalJSON(data []byte) error {
	var raw aliasOperationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op := AliasOperation(raw)
	action, n := op.shape()
	if n != 1 {
		return fmt.Errorf("%w, got %d", ErrAliasActionShape, n)
	}
	if op.Action != "" && op.Action != action {
		return fmt.Errorf("alias action %q does not match payload %q", op.Action, action)
	}
	op.Action = action
	*a = op
	return nil
}

// ChangeAliasesOperation is an ordered batch of alias mutations applied as one
// atomic unit: either every action takes effect or none does, and no other
// collection mutation is interleaved.
type ChangeAliasesOperation struct {
	Actions []AliasOperation `json:"actions"`
}

func (o ChangeAliasesOperation) Kind() Kind { return KindChangeAliases }

func (o ChangeAliasesOperation) Validate() error {
	if len(o.Actions) == 0 {
		return invalid("actions", "must contain at least one alias action")
	}
	for i, action := range o.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	return nil
}
