package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/syncserver/internal/repository/room"
)

const catalogKey = "catalog:content"

func (r repo) ContentExists(ctx context.Context, contentID string) (bool, error) {
	exists, err := r.rc.SIsMember(ctx, catalogKey, contentID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check content: %w", err)
	}

	return exists, nil
}

func (r repo) AddContent(ctx context.Context, params *room.AddContentParams) error {
	if len(params.ContentIDs) == 0 {
		return nil
	}

	pipe := r.rc.TxPipeline()
	for _, id := range params.ContentIDs {
		pipe.SAdd(ctx, catalogKey, id)
	}

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to add content: %w", err)
	}

	return nil
}
