package ports

import (
	"context"

	"github.com/bnema/deployctl/internal/domain"
)

type ConfigWriter interface {
	Write(ctx context.Context, cfg domain.Configuration) error
}
