package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/plotmon/internal/protocol"
)

// MockMailbox is a mock implementation of the Mailbox interface for testing.
type MockMailbox struct {
	mock.Mock
}

// Enqueue is the mock implementation of the Enqueue method.
func (m *MockMailbox) Enqueue(ctx context.Context, env protocol.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

// Dequeue is the mock implementation of the Dequeue method.
func (m *MockMailbox) Dequeue(ctx context.Context) (protocol.Envelope, error) {
	args := m.Called(ctx)
	env, _ := args.Get(0).(protocol.Envelope)
	return env, args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockMailbox) Close() {
	m.Called()
}
