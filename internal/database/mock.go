package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (int64, error) {
	args := m.Called(params)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) GetMessage(id int64) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(channel string, beforeID int64, limit int) ([]Message, error) {
	args := m.Called(channel, beforeID, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) SearchMessages(channel, query string, limit int) ([]Message, error) {
	args := m.Called(channel, query, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) UpdateReactions(id int64, reactions map[string][]string) error {
	args := m.Called(id, reactions)
	return args.Error(0)
}
func (m *MockRepository) DeleteMessage(id int64) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) ExpiredMessages(now time.Time) ([]Message, error) {
	args := m.Called(now)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) CreateChannel(ch Channel) error {
	args := m.Called(ch)
	return args.Error(0)
}
func (m *MockRepository) UpdateChannelTopic(name, topic string) error {
	args := m.Called(name, topic)
	return args.Error(0)
}
func (m *MockRepository) DeleteChannel(name string) error {
	args := m.Called(name)
	return args.Error(0)
}
func (m *MockRepository) ListChannels() ([]Channel, error) {
	args := m.Called()
	return args.Get(0).([]Channel), args.Error(1)
}
func (m *MockRepository) CreateVoiceChannel(vc VoiceChannel) error {
	args := m.Called(vc)
	return args.Error(0)
}
func (m *MockRepository) UpdateVoiceChannel(vc VoiceChannel) error {
	args := m.Called(vc)
	return args.Error(0)
}
func (m *MockRepository) DeleteVoiceChannel(name string) error {
	args := m.Called(name)
	return args.Error(0)
}
func (m *MockRepository) ListVoiceChannels() ([]VoiceChannel, error) {
	args := m.Called()
	return args.Get(0).([]VoiceChannel), args.Error(1)
}
func (m *MockRepository) UpsertRole(role RoleAssignment) error {
	args := m.Called(role)
	return args.Error(0)
}
func (m *MockRepository) ListRoles() ([]RoleAssignment, error) {
	args := m.Called()
	return args.Get(0).([]RoleAssignment), args.Error(1)
}
