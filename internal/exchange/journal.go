package exchange

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Journal appends every rates summary served to clients to a file, one JSON
// object per line.
type Journal struct {
	logger *zap.Logger
	closer io.Closer
	once   sync.Once
}

// OpenJournal opens (or creates) the journal file at path for appending
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open exchange journal: %w", err)
	}
	j := NewJournal(f)
	j.closer = f
	return j, nil
}

// NewJournal writes journal lines to w
func NewJournal(w io.Writer) *Journal {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(zapcore.AddSync(w)), zapcore.InfoLevel)
	return &Journal{logger: zap.New(core)}
}

// Record appends one summary
func (j *Journal) Record(summary string) {
	if j == nil {
		return
	}
	j.logger.Info("exchange", zap.String("summary", summary))
}

// Close flushes and closes the underlying file
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.once.Do(func() {
		_ = j.logger.Sync()
		if j.closer != nil {
			err = j.closer.Close()
		}
	})
	return err
}
