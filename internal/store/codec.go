package store

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/dmitrijs2005/chaincache/internal/common"
)

// codec matches encoding/json output so documents stay readable by SQLite's
// JSON functions and by other tools.
var codec = sonic.ConfigStd

func encode(record any) (string, error) {
	if record == nil {
		return "", fmt.Errorf("%w: nil record", common.ErrInvalidKey)
	}
	b, err := codec.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("%w: encode record: %w", common.ErrOperationFailed, err)
	}
	return string(b), nil
}

func decode(doc string, dst any) error {
	if err := codec.UnmarshalFromString(doc, dst); err != nil {
		return fmt.Errorf("%w: decode record: %w", common.ErrOperationFailed, err)
	}
	return nil
}
