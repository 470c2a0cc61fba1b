package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonesrussell/coursecheck/internal/domain"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

// EnumerateProgram lists a program's lessons through its source adapter and
// upserts them into the store, preserving the enumerated order. Returns the
// number of lessons recorded. A sources.ErrSessionExpired from the adapter
// is passed through so callers can prompt a credential refresh.
func (r *Runner) EnumerateProgram(ctx context.Context, programID string) (int, error) {
	program, err := r.programs.GetByID(ctx, programID)
	if err != nil {
		return 0, fmt.Errorf("enumerate program: %w", err)
	}

	adapter, err := r.registry.Resolve(program.SourceType)
	if err != nil {
		return 0, fmt.Errorf("enumerate program: %w", err)
	}

	if result := adapter.Validate(program.RootURL); !result.OK {
		return 0, fmt.Errorf("enumerate program: root URL rejected: %s", result.Reason)
	}

	auth, err := r.resolveAuth(ctx, program)
	if err != nil {
		return 0, fmt.Errorf("enumerate program: %w", err)
	}

	refs, err := adapter.EnumerateLessons(ctx, program.RootURL, auth)
	if err != nil {
		return 0, fmt.Errorf("enumerate program: %w", err)
	}

	for _, ref := range refs {
		lesson := &domain.Lesson{
			ID:        uuid.NewString(),
			ProgramID: program.ID,
			Title:     ref.Title,
			SourceURL: ref.URL,
			Position:  ref.Order,
		}
		if upsertErr := r.lessons.Upsert(ctx, lesson); upsertErr != nil {
			return 0, fmt.Errorf("enumerate program: %w", upsertErr)
		}
	}

	r.logger.Info("program enumerated",
		logger.String("program_id", program.ID),
		logger.Int("lessons", len(refs)),
	)

	return len(refs), nil
}
