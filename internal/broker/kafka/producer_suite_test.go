package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BearBump/WeighBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

func (s *ProducerSuite) TestPublishJSON_AppointmentBooked() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || msgs[0].Topic != messages.EventAppointmentBooked {
				return false
			}
			var got messages.AppointmentBooked
			if json.Unmarshal(msgs[0].Value, &got) != nil {
				return false
			}
			return string(msgs[0].Key) == "2508020004" && got.WeighbridgeNumber == "WB250800004"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.PublishJSON(context.Background(), messages.EventAppointmentBooked, "2508020004", messages.AppointmentBooked{
		AppointmentNumber: "2508020004",
		WeighbridgeNumber: "WB250800004",
	}))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("boom")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "t", []byte("k"), []byte("v"))
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "kafka publish")
	s.Require().ErrorIs(err, want)
	s.wm.AssertExpectations(s.T())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
