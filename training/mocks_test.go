package training

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockModel is a mock of Model interface.
type MockModel struct {
	ctrl     *gomock.Controller
	recorder *MockModelMockRecorder
}

// MockModelMockRecorder is the mock recorder for MockModel.
type MockModelMockRecorder struct {
	mock *MockModel
}

// NewMockModel creates a new mock instance.
func NewMockModel(ctrl *gomock.Controller) *MockModel {
	mock := &MockModel{ctrl: ctrl}
	mock.recorder = &MockModelMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockModel) EXPECT() *MockModelMockRecorder {
	return m.recorder
}

// Compute mocks base method.
func (m *MockModel) Compute(params Parameters, inputs Field, targets Targets, isTraining bool) (Logits, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Compute", params, inputs, targets, isTraining)
	ret0, _ := ret[0].(Logits)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Compute indicates an expected call of Compute.
func (mr *MockModelMockRecorder) Compute(params, inputs, targets, isTraining any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Compute", reflect.TypeOf((*MockModel)(nil).Compute), params, inputs, targets, isTraining)
}

// Loss mocks base method.
func (m *MockModel) Loss(targets Targets, logits Logits) (float64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Loss", targets, logits)
	ret0, _ := ret[0].(float64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Loss indicates an expected call of Loss.
func (mr *MockModelMockRecorder) Loss(targets, logits any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Loss", reflect.TypeOf((*MockModel)(nil).Loss), targets, logits)
}

// Gradients mocks base method.
func (m *MockModel) Gradients(params Parameters, inputs Field, targets Targets, logits Logits) (Gradients, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Gradients", params, inputs, targets, logits)
	ret0, _ := ret[0].(Gradients)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Gradients indicates an expected call of Gradients.
func (mr *MockModelMockRecorder) Gradients(params, inputs, targets, logits any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Gradients", reflect.TypeOf((*MockModel)(nil).Gradients), params, inputs, targets, logits)
}

// MockDecoder is a mock of Decoder interface.
type MockDecoder struct {
	ctrl     *gomock.Controller
	recorder *MockDecoderMockRecorder
}

// MockDecoderMockRecorder is the mock recorder for MockDecoder.
type MockDecoderMockRecorder struct {
	mock *MockDecoder
}

// NewMockDecoder creates a new mock instance.
func NewMockDecoder(ctrl *gomock.Controller) *MockDecoder {
	mock := &MockDecoder{ctrl: ctrl}
	mock.recorder = &MockDecoderMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockDecoder) EXPECT() *MockDecoderMockRecorder {
	return m.recorder
}

// Decode mocks base method.
func (m *MockDecoder) Decode(ctx context.Context, corpus Corpus, params Parameters) (map[string][]int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Decode", ctx, corpus, params)
	ret0, _ := ret[0].(map[string][]int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Decode indicates an expected call of Decode.
func (mr *MockDecoderMockRecorder) Decode(ctx, corpus, params any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Decode", reflect.TypeOf((*MockDecoder)(nil).Decode), ctx, corpus, params)
}

// Score mocks base method.
func (m *MockDecoder) Score(hypotheses, references map[string][]int) (float64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Score", hypotheses, references)
	ret0, _ := ret[0].(float64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Score indicates an expected call of Score.
func (mr *MockDecoderMockRecorder) Score(hypotheses, references any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Score", reflect.TypeOf((*MockDecoder)(nil).Score), hypotheses, references)
}
