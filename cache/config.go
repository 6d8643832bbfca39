package cache

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
)

type storeOptions struct {
	MaxTableSizeM     int
	ValueLogFileSizeM int
	NumMemtables      int
	SyncWrites        bool
}

const defaultConfig = `
{
    "MaxTableSizeM": 64,
    "ValueLogFileSizeM": 1024,
    "NumMemtables": 5,
    "SyncWrites": false
}
`

var globalStoreOptions storeOptions

func init() {
	if err := json.Unmarshal([]byte(defaultConfig), &globalStoreOptions); err != nil {
		panic(err)
	}

	confFile := os.Getenv("OSMPATCH_CACHE_CONFIG")
	if confFile != "" {
		if err := loadStoreOptions(confFile, &globalStoreOptions); err != nil {
			logger.Printf("[warn] %s", err)
		}
	}
}

func loadStoreOptions(fname string, o *storeOptions) error {
	data, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("unable to read cache config: %s", err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("unable to parse cache config: %s", err)
	}
	return nil
}

func (o storeOptions) badgerOptions(dir string) badger.Options {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	if o.MaxTableSizeM > 0 {
		opts.MaxTableSize = int64(o.MaxTableSizeM) << 20
	}
	if o.ValueLogFileSizeM > 0 {
		opts.ValueLogFileSize = int64(o.ValueLogFileSizeM) << 20
	}
	if o.NumMemtables > 0 {
		opts.NumMemtables = o.NumMemtables
	}
	opts.SyncWrites = o.SyncWrites
	opts.Logger = badgerLogger{}
	return opts
}

// badgerLogger passes badger log messages to our logger. Info messages are
// only logged at debug level.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...interface{}) {
	logger.Printf("[error] "+format, v...)
}

func (badgerLogger) Warningf(format string, v ...interface{}) {
	logger.Printf("[warn] "+format, v...)
}

func (badgerLogger) Infof(format string, v ...interface{}) {
	logger.Printf("[debug] "+format, v...)
}

func (badgerLogger) Debugf(format string, v ...interface{}) {
	logger.Printf("[debug] "+format, v...)
}
