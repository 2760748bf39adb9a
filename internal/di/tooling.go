package di

import (
	"github.com/sandeepkv93/license-activation-service/internal/service"

	"gorm.io/gorm"
)

// Tooling is the subset of the graph used by one-shot CLI commands. Its
// resources are released by the cleanup returned from InitializeTooling.
type Tooling struct {
	Service *service.ActivationService
	DB      *gorm.DB
	Redis   *RedisClient
}
