package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestKeyBalancerRoutesNumericKeys(t *testing.T) {
	b := &keyBalancer{}
	partitions := []int{0, 1, 2, 3}

	assert.Equal(t, 2, b.Balance(kafka.Message{Key: []byte(PartitionKey(2))}, partitions...))
	assert.Equal(t, 0, b.Balance(kafka.Message{Key: []byte("0")}, partitions...))

	got := b.Balance(kafka.Message{Key: []byte("9")}, partitions...)
	assert.Contains(t, partitions, got)
	assert.Equal(t, got, b.Balance(kafka.Message{Key: []byte("9")}, partitions...))

	got = b.Balance(kafka.Message{Key: []byte("customer-a")}, partitions...)
	assert.Contains(t, partitions, got)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Stream int `json:"stream"`
	}
	v, err := DecodeJSON[payload]([]byte(`{"stream":7}`))
	assert.NoError(t, err)
	assert.Equal(t, 7, v.Stream)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}
