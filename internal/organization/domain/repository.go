package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
)

type Repository interface {
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	ListWithProcessorCredentials(ctx context.Context) ([]Organization, error)
	IsMember(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (bool, error)
}
