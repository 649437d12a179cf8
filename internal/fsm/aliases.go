package fsm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// applyChangeAliases applies the actions in order on the working copy. The
// first failing action rejects the whole batch.
func (f *FSM) applyChangeAliases(tx *txn, op operations.ChangeAliasesOperation) error {
	for i, action := range op.Actions {
		if err := applyAliasAction(tx, action); err != nil {
			return fmt.Errorf("actions[%d] %s: %w", i, action.Action, err)
		}
	}
	f.logger.Debug("Changed aliases", zap.Int("actions", len(op.Actions)))
	return nil
}

func applyAliasAction(tx *txn, action operations.AliasOperation) error {
	switch action.Action {
	case operations.AliasCreate:
		a := action.CreateAlias
		if _, err := tx.collection(a.CollectionName); err != nil {
			return err
		}
		if err := checkAliasFree(tx, a.AliasName); err != nil {
			return err
		}
		tx.putAlias(a.AliasName, a.CollectionName)
	case operations.AliasDelete:
		a := action.DeleteAlias
		if _, ok := tx.state.Aliases[a.AliasName]; !ok {
			return fmt.Errorf("%w: %q", ErrAliasNotFound, a.AliasName)
		}
		tx.deleteAlias(a.AliasName)
	case operations.AliasRename:
		a := action.RenameAlias
		target, ok := tx.state.Aliases[a.OldAliasName]
		if !ok {
			return fmt.Errorf("%w: %q", ErrAliasNotFound, a.OldAliasName)
		}
		if err := checkAliasFree(tx, a.NewAliasName); err != nil {
			return err
		}
		tx.deleteAlias(a.OldAliasName)
		tx.putAlias(a.NewAliasName, target)
	default:
		return fmt.Errorf("%w: %q", operations.ErrAliasActionShape, action.Action)
	}
	return nil
}

func checkAliasFree(tx *txn, alias string) error {
	if _, ok := tx.state.Aliases[alias]; ok {
		return fmt.Errorf("%w: %q", ErrAliasExists, alias)
	}
	if _, ok := tx.state.Collections[alias]; ok {
		return fmt.Errorf("%w: %q is a collection", ErrAliasCollision, alias)
	}
	return nil
}
