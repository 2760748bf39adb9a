package service

import "context"

type KeyCodec interface {
	Generate() (string, error)
	Hash(plaintext string) (string, error)
	Verify(plaintext, stored string) bool
	PrefixFor(plaintext string) string
}

type ActivationServiceInterface interface {
	Issue(ctx context.Context, ownerID string) (string, error)
	Activate(ctx context.Context, in ActivateInput) (*ActivationResult, error)
	Revoke(ctx context.Context, keyID, ownerID string) (*RevokeResult, error)
	Unlink(ctx context.Context, deviceID, ownerID string) error
	Deactivate(ctx context.Context, fingerprint string) error
	ListKeys(ctx context.Context, ownerID string) ([]KeyView, error)
	ListDevices(ctx context.Context, ownerID string) ([]DeviceView, error)
}
