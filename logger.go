package permit

import "github.com/oarkflow/permit/logger"

// Logger is re-exported so callers need not import the logger package.
type Logger = logger.Logger
