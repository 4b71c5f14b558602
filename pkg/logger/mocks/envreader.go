// Package mocks holds a gomock double for pkg/logger's envReader interface,
// hand-written in the shape mockgen would produce for a single-method
// interface, mirroring the teacher's own env/mocks.MockReader.
package mocks

import (
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockEnvReader mocks pkg/logger's envReader interface.
type MockEnvReader struct {
	ctrl     *gomock.Controller
	recorder *MockEnvReaderMockRecorder
}

// MockEnvReaderMockRecorder is the mock recorder for MockEnvReader.
type MockEnvReaderMockRecorder struct {
	mock *MockEnvReader
}

// NewMockEnvReader creates a new mock instance.
func NewMockEnvReader(ctrl *gomock.Controller) *MockEnvReader {
	mock := &MockEnvReader{ctrl: ctrl}
	mock.recorder = &MockEnvReaderMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockEnvReader) EXPECT() *MockEnvReaderMockRecorder {
	return m.recorder
}

// Getenv mocks base method.
func (m *MockEnvReader) Getenv(key string) string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Getenv", key)
	ret0, _ := ret[0].(string)
	return ret0
}

// Getenv indicates an expected call of Getenv.
func (mr *MockEnvReaderMockRecorder) Getenv(key any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Getenv", reflect.TypeOf((*MockEnvReader)(nil).Getenv), key)
}
