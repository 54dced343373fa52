package ruleengine

import (
	"context"
	stderrors "errors"

	"github.com/longczx/home-guardian/natsclient"
)

// reloadFlagKey is the key the management API sets after editing rules
const reloadFlagKey = "changed"

// KVReloadSignal implements ReloadSignal over a KV bucket. The flag is
// presence-based: any value means a reload is due, Ack deletes the key.
type KVReloadSignal struct {
	kv *natsclient.KVStore
}

// NewKVReloadSignal wraps the rules flag bucket
func NewKVReloadSignal(kv *natsclient.KVStore) *KVReloadSignal {
	return &KVReloadSignal{kv: kv}
}

// Changed reports whether the flag is set
func (s *KVReloadSignal) Changed(ctx context.Context) (bool, error) {
	_, err := s.kv.Get(ctx, reloadFlagKey)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ack clears the flag after a successful reload
func (s *KVReloadSignal) Ack(ctx context.Context) error {
	return s.kv.Delete(ctx, reloadFlagKey)
}
