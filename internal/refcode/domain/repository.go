package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	// UpsertMapping writes the mapping, replacing any existing row for the
	// same (org, refcode). Last writer wins.
	UpsertMapping(ctx context.Context, mapping *RefcodeMapping) error
	FindMapping(ctx context.Context, orgID snowflake.ID, refcode string) (*RefcodeMapping, error)
	ListMappings(ctx context.Context, orgID snowflake.ID) ([]RefcodeMapping, error)
}
