package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/kafka"
)

func TestDecode(t *testing.T) {
	msg := kafka.Message{
		Partition: 7,
		Offset:    10,
		Value:     []byte(`{"domain":3,"source":[5,12],"target":[40],"alignment":[{"s":0,"t":0},{"s":1,"t":0}]}`),
	}
	u, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, model.UpdateID{Stream: 7, Seq: 10}, u.ID)
	assert.Equal(t, model.Domain(3), u.Domain)
	assert.Equal(t, []model.Wid{5, 12}, u.Source)
	assert.Equal(t, model.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 0}}, u.Alignment)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	_, err := Decode(kafka.Message{Value: []byte(`not json`)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Decode(kafka.Message{Value: []byte(`{"domain":1,"source":[],"target":[4]}`)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
