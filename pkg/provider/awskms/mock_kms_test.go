// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package awskms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// MockKMSClient is a mock implementation of the KMSClient interface for testing.
// Each operation can be customized by setting the corresponding function field.
type MockKMSClient struct {
	EncryptFunc        func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	DecryptFunc        func(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	GenerateRandomFunc func(ctx context.Context, params *kms.GenerateRandomInput, optFns ...func(*kms.Options)) (*kms.GenerateRandomOutput, error)
	DescribeKeyFunc    func(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// Encrypt mocks the Encrypt operation.
func (m *MockKMSClient) Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if m.EncryptFunc != nil {
		return m.EncryptFunc(ctx, params, optFns...)
	}
	return nil, errors.New("Encrypt not mocked")
}

// Decrypt mocks the Decrypt operation.
func (m *MockKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if m.DecryptFunc != nil {
		return m.DecryptFunc(ctx, params, optFns...)
	}
	return nil, errors.New("Decrypt not mocked")
}

// GenerateRandom mocks the GenerateRandom operation.
func (m *MockKMSClient) GenerateRandom(ctx context.Context, params *kms.GenerateRandomInput, optFns ...func(*kms.Options)) (*kms.GenerateRandomOutput, error) {
	if m.GenerateRandomFunc != nil {
		return m.GenerateRandomFunc(ctx, params, optFns...)
	}
	return &kms.GenerateRandomOutput{Plaintext: make([]byte, aws.ToInt32(params.NumberOfBytes))}, nil
}

// DescribeKey mocks the DescribeKey operation.
func (m *MockKMSClient) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	if m.DescribeKeyFunc != nil {
		return m.DescribeKeyFunc(ctx, params, optFns...)
	}
	return nil, errors.New("DescribeKey not mocked")
}

// fakeKMS simulates symmetric KMS keys: a ciphertext records the key id and
// encryption context it was produced under and only opens under both.
type fakeKMS struct {
	mu    sync.Mutex
	blobs map[string]fakeBlob
	seq   int
}

type fakeBlob struct {
	keyID     string
	context   string
	plaintext []byte
}

func newFakeKMS() *MockKMSClient {
	f := &fakeKMS{blobs: make(map[string]fakeBlob)}
	return &MockKMSClient{
		EncryptFunc: func(_ context.Context, params *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.seq++
			blob := fmt.Sprintf("blob-%d", f.seq)
			f.blobs[blob] = fakeBlob{
				keyID:     aws.ToString(params.KeyId),
				context:   params.EncryptionContext[contextNonceKey],
				plaintext: bytes.Clone(params.Plaintext),
			}
			return &kms.EncryptOutput{CiphertextBlob: []byte(blob), KeyId: params.KeyId}, nil
		},
		DecryptFunc: func(_ context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			blob, ok := f.blobs[string(params.CiphertextBlob)]
			if !ok || blob.context != params.EncryptionContext[contextNonceKey] {
				return nil, &kmstypes.InvalidCiphertextException{Message: aws.String("invalid ciphertext")}
			}
			if blob.keyID != aws.ToString(params.KeyId) {
				return nil, &kmstypes.IncorrectKeyException{Message: aws.String("incorrect key")}
			}
			return &kms.DecryptOutput{Plaintext: bytes.Clone(blob.plaintext), KeyId: params.KeyId}, nil
		},
	}
}
