// Package tools implements the executable adapters behind the registry:
// SQL queries against Postgres, full-text search against Meilisearch, and
// chart rendering to PNG artifacts.
package tools

import (
	"database/sql"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/logger"
	"github.com/askdb-ai/askdb/internal/meili"
)

// Dependencies holds the backends the adapters run against.
type Dependencies struct {
	DB           *sql.DB
	Meili        *meili.Client
	ChartDir     string
	ChartBaseURL string
	Logger       *logger.Logger
}

// Register wires all adapters into the registry. Registration order is the
// order the decider sees the tool specs in.
func Register(reg *askdb.Registry, deps Dependencies) error {
	sqlTool := NewSQLQueryTool(deps.DB, deps.Logger)
	if err := reg.Register(sqlTool.Spec(), sqlTool); err != nil {
		return err
	}

	searchTool := NewSearchTool(deps.Meili, deps.Logger)
	if err := reg.Register(searchTool.Spec(), searchTool); err != nil {
		return err
	}

	chartTool := NewChartTool(deps.ChartDir, deps.ChartBaseURL, deps.Logger)
	if err := reg.Register(chartTool.Spec(), chartTool); err != nil {
		return err
	}

	return nil
}
