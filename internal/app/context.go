package app

import (
	"context"
	"errors"
	"fmt"

	"journalflow/internal/config"
	"journalflow/internal/repo"
)

// Resolution says which journal a process serves and with which config.
type Resolution struct {
	JournalID string
	Config    *config.Config
	// Exists is false when the journal still has to be initialised.
	Exists bool
}

// ResolveJournalAndConfig picks the active journal: the override first, then
// the only journal in the database, then the workspace config file. The
// stored config wins over the file once the journal exists; a journal
// missing its config row is reseeded.
func ResolveJournalAndConfig(ctx context.Context, workspace, journalOverride string, r repo.Repo) (Resolution, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return Resolution{}, fmt.Errorf("load workspace config: %w", err)
	}
	journalID := journalOverride
	if journalID == "" {
		j, err := r.SingleJournal(ctx)
		switch {
		case err == nil:
			journalID = j.ID
		case !errors.Is(err, repo.ErrNotFound):
			return Resolution{}, err
		case fileCfg != nil:
			journalID = fileCfg.Journal.ID
		default:
			return Resolution{}, errors.New("journal not specified; use --journal or create journalflow.yml")
		}
	}
	seed := fileCfg
	if seed == nil || seed.Journal.ID != journalID {
		seed = config.Default(journalID)
	}

	if _, err := r.GetJournal(ctx, journalID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return Resolution{}, err
		}
		return Resolution{JournalID: journalID, Config: seed}, nil
	}
	cfg, err := r.GetJournalConfig(ctx, journalID)
	if errors.Is(err, repo.ErrNotFound) {
		if err := r.UpsertJournalConfig(ctx, nil, journalID, seed); err != nil {
			return Resolution{}, fmt.Errorf("seed journal config: %w", err)
		}
		cfg, err = seed, nil
	}
	if err != nil {
		return Resolution{}, err
	}
	cfg.Journal.ID = journalID
	return Resolution{JournalID: journalID, Config: cfg, Exists: true}, nil
}
