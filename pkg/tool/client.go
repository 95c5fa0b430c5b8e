package tool

import (
	"github.com/m-mizutani/lakeagent/pkg/datalake"
)

// Client contains shared resources that tools can use
type Client struct {
	Executor datalake.Executor
}
