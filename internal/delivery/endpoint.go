package delivery

import (
	"time"

	"github.com/aegishook/aegishook/internal/siem"
)

// Endpoint is one tenant-configured webhook receiver. The worker
// re-reads it before every attempt so enable/disable and format
// changes take effect on the next attempt, not the next job.
type Endpoint struct {
	ID        string      `json:"endpoint_id"`
	TenantID  string      `json:"tenant_id"`
	URL       string      `json:"url"`
	Format    siem.Format `json:"format"`
	Secret    string      `json:"-"`
	Enabled   bool        `json:"enabled"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
