// Package di contains dependency injection tokens for the ledger context.
package di

import (
	"github.com/fd1az/swapengine/business/ledger/app"
	"github.com/fd1az/swapengine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Recorder = di.NewToken[*app.Recorder]("ledger.Recorder")
)

// Private dependency tokens - internal to ledger module
var (
	Submitter = di.NewToken[app.Submitter]("ledger:submitter")
)

func GetRecorder(c di.ServiceRegistry) *app.Recorder {
	return di.GetToken(c, Recorder)
}

func GetSubmitter(c di.ServiceRegistry) app.Submitter {
	return di.GetToken(c, Submitter)
}
