package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/threadgate/internal/log"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/notify/mocks"
)

func TestThreadRoutedPublishesEnvelope(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub := mocks.NewMockPublisher(ctrl)
	ev := notify.ThreadRoutedV1{ThreadID: 10, OperatorID: 3, OperatorCode: "ALC"}

	pub.EXPECT().Publish(gomock.Any(), "thread.routed", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, env notify.Envelope) error {
			if env.Meta.Type != "thread.routed.v1" {
				t.Errorf("type = %q", env.Meta.Type)
			}
			if env.Meta.ID == "" {
				t.Error("message id is empty")
			}
			if env.Meta.CorrelationID != "req-1" || env.Meta.Producer != "threadgate" {
				t.Errorf("unexpected meta: %+v", env.Meta)
			}
			data, ok := env.Data.(notify.ThreadRoutedV1)
			if !ok || data != ev {
				t.Errorf("data = %#v, want %#v", env.Data, ev)
			}
			return nil
		})

	n := notify.NewNotifier(pub, "thread.routed", "threadgate", log.Discard())
	if err := n.ThreadRouted(context.Background(), ev, "req-1"); err != nil {
		t.Fatalf("ThreadRouted: %v", err)
	}
}

func TestThreadRoutedReturnsPublishError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub := mocks.NewMockPublisher(ctrl)
	boom := errors.New("broker down")
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(boom)
	pub.EXPECT().Close().Return(nil)

	n := notify.NewNotifier(pub, "thread.routed", "threadgate", log.Discard())
	if err := n.ThreadRouted(context.Background(), notify.ThreadRoutedV1{ThreadID: 1}, ""); !errors.Is(err, boom) {
		t.Fatalf("ThreadRouted err = %v, want %v", err, boom)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
