package modules

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/models"
	"google.golang.org/protobuf/proto"
)

const (
	ErrTypeMsgSkip    = "module_msg_skip"
	ErrTypeInvalidMsg = "invalid_module_msg"
)

// ErrModuleMsgSkip is returned by modules that do not handle a message.
var ErrModuleMsgSkip error = errors.New("module message skipped").WithType(ErrTypeMsgSkip)

// Module is the interface that describes a module that extends a space with a
// protobuf protocol.
type Module interface {
	// Returns the module name.
	Name() string

	// Initializes the module for the given space. Modules keep their per space
	// data in the space module state.
	Init(*models.Space)

	// Handles a given message. Modules are free to decide whether they handle a
	// message.
	//
	// Returning ErrModuleMsgSkip indicates that handling a message was skipped.
	HandleMsg(context.Context, ResponseSender, Msg) error
}

// Msg is a protobuf encoded message addressed to a module.
type Msg struct {
	// The message name, as routed by the transport.
	Name string

	Data []byte
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v proto.Message) error {
	if err := proto.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding module message failed").
			WithType(ErrTypeInvalidMsg).
			WithTag("msg", m.Name).
			Wrap(err)
	}
	return nil
}

// ResponseSender is the interface that describes how a module responds to a
// message.
type ResponseSender interface {
	Send(proto.Message)
}

// ResponseRecorder is a ResponseSender that keeps the sent responses.
type ResponseRecorder struct {
	Responses []proto.Message
}

func (r *ResponseRecorder) Send(msg proto.Message) {
	r.Responses = append(r.Responses, msg)
}
