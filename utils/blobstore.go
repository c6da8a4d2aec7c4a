package utils

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrBlobNotFound is returned by BlobStore.Get for unknown keys.
var ErrBlobNotFound = eris.New("blob not found")

// BlobStore holds bot data archives, match logs and replays.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

func MatchLogKey(matchID, botID string) string {
	return "match-logs/" + matchID + "/" + botID + ".zip"
}

func ReplayKey(matchID string) string {
	return "replays/" + matchID + ".SC2Replay"
}
