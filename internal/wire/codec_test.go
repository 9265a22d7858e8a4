package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerSetValue_FaceRecordBytes(t *testing.T) {
	msg := &LayerSetValue{
		Priority: DefaultPriority,
		NodeID:   0x01020304,
		LayerID:  0x0506,
		ItemID:   7,
		Value:    UintValue(TypeUint32, 1, 2, 3, 0),
	}

	data, err := Marshal(msg)
	require.NoError(t, err)

	want := []byte{
		uint8(OpLayerSetValue), 0x00, 0x1d,
		0x80,
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06,
		0x00, 0x00, 0x00, 0x07,
		uint8(TypeUint32), 0x04,
		0, 0, 0, 1,
		0, 0, 0, 2,
		0, 0, 0, 3,
		0, 0, 0, 0,
	}
	assert.Equal(t, want, data)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestLayerSetValue_VertexRecord(t *testing.T) {
	msg := &LayerSetValue{
		Priority: DefaultPriority,
		NodeID:   66,
		LayerID:  1,
		ItemID:   0,
		Value:    RealValue(TypeReal64, 1.5, -2.25, math.Pi),
	}
	data, err := Marshal(msg)
	require.NoError(t, err)

	// header + prio + node + layer + item + type + count + 3 * 8
	require.Len(t, data, HeaderSize+1+4+2+4+1+1+24)
	assert.Equal(t, uint8(TypeReal64), data[HeaderSize+11])
	assert.Equal(t, uint8(3), data[HeaderSize+12])

	back, err := Unmarshal(data)
	require.NoError(t, err)
	got := back.(*LayerSetValue)
	assert.Equal(t, []float64{1.5, -2.25, math.Pi}, got.Value.Reals)
	assert.Empty(t, got.Value.Uints)
}

func TestValue_EveryTypeRoundTrips(t *testing.T) {
	values := []Value{
		UintValue(TypeUint8, 255),
		UintValue(TypeUint16, 1, 65535),
		UintValue(TypeUint32, 4294967295, 0, 1),
		UintValue(TypeUint64, math.MaxUint64, 1, 2, 3),
		RealValue(TypeReal16, 1, -2, 0.5),
		RealValue(TypeReal32, 0.25, 8),
		RealValue(TypeReal64, 1e300),
	}
	for _, v := range values {
		t.Run(v.Type.String(), func(t *testing.T) {
			data, err := Marshal(&LayerSetValue{Value: v})
			require.NoError(t, err)
			back, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, v, back.(*LayerSetValue).Value)
		})
	}
}

func TestValue_Validate(t *testing.T) {
	assert.ErrorIs(t, Value{Type: TypeReserved, Uints: []uint64{1}}.Validate(), ErrValueType)
	assert.ErrorIs(t, UintValue(TypeUint32).Validate(), ErrValueCount)
	assert.ErrorIs(t, UintValue(TypeUint32, 1, 2, 3, 4, 5).Validate(), ErrValueCount)
	assert.ErrorIs(t, UintValue(TypeUint8, 256).Validate(), ErrValueRange)
	assert.ErrorIs(t, Value{Type: TypeReal32, Uints: []uint64{1}}.Validate(), ErrValueRange)
	assert.NoError(t, UintValue(TypeUint16, 65535).Validate())

	_, err := Marshal(&LayerSetValue{Value: UintValue(TypeUint8, 300)})
	assert.ErrorIs(t, err, ErrValueRange)
}

func TestHalfConversion(t *testing.T) {
	cases := []struct {
		in   float64
		bits uint16
	}{
		{0, 0x0000},
		{1, 0x3c00},
		{-2, 0xc000},
		{0.5, 0x3800},
		{65504, 0x7bff},
		{70000, 0x7c00},
		{math.Pow(2, -24), 0x0001},
		{1e-9, 0x0000},
		{0.1, 0x2e66},
	}
	for _, c := range cases {
		assert.Equalf(t, c.bits, halfFromFloat(c.in), "halfFromFloat(%v)", c.in)
	}
	assert.Equal(t, 1.0, floatFromHalf(0x3c00))
	assert.Equal(t, -2.0, floatFromHalf(0xc000))
	assert.Equal(t, math.Pow(2, -24), floatFromHalf(0x0001))
	assert.True(t, math.IsInf(floatFromHalf(0x7c00), 1))
	assert.True(t, math.IsNaN(floatFromHalf(0x7e00)))
}

func TestAuthenticateRequest_RoundTrip(t *testing.T) {
	msg := &AuthenticateRequest{Username: "joe", Methods: []AuthMethod{AuthNone, AuthPassword}}
	data, err := Marshal(msg)
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)
	got := back.(*AuthenticateRequest)
	assert.Equal(t, msg, got)
	assert.True(t, got.Offers(AuthPassword))

	bare, err := Unmarshal(mustMarshal(t, &AuthenticateRequest{Methods: []AuthMethod{AuthPassword}}))
	require.NoError(t, err)
	assert.Empty(t, bare.(*AuthenticateRequest).Username)
}

func TestMarshal_RejectsOversizedStrings(t *testing.T) {
	long := make([]byte, MaxUsernameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Marshal(&UserAuthenticate{Username: string(long)})
	assert.ErrorIs(t, err, ErrStringTooLong)
}

func TestUnmarshalAll_PackedFrames(t *testing.T) {
	var buf []byte
	var err error
	sent := []Message{
		&ConnectAccept{UserID: 1001, AvatarID: 66},
		&NodeCreated{NodeID: 70, ParentID: 66, UserID: 1001, CustomType: 125},
		&LayerCreated{NodeID: 71, ParentLayerID: NoParentLayer, LayerID: 0, DataType: TypeReal64, Count: 3, CustomType: 0},
		&ConnectTerminate{Reason: TermServer},
	}
	for _, m := range sent {
		buf, err = AppendFrame(buf, m)
		require.NoError(t, err)
	}

	got, err := UnmarshalAll(buf)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestUnmarshal_Errors(t *testing.T) {
	_, err := Unmarshal([]byte{1, 0})
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = Unmarshal([]byte{99, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Unmarshal([]byte{uint8(OpConnectAccept), 0, 6, 0, 1})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Unmarshal([]byte{uint8(OpConnectAccept), 0, 2, 0, 1})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Unmarshal([]byte{uint8(OpConnectTerminate), 0, 2, 1, 1})
	assert.ErrorIs(t, err, ErrTrailingBytes)

	frame := mustMarshal(t, &ConnectTerminate{Reason: TermTimeout})
	_, err = Unmarshal(append(frame, 0))
	assert.ErrorIs(t, err, ErrTrailingBytes)

	bad := mustMarshal(t, &LayerSetValue{Value: UintValue(TypeUint8, 1)})
	bad[HeaderSize+11] = 42
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrValueType)
}

func TestTermReason_DistinctMessages(t *testing.T) {
	seen := map[string]TermReason{}
	for r := TermHostUnknown; r <= TermServer; r++ {
		msg := r.String()
		prev, dup := seen[msg]
		assert.Falsef(t, dup, "reason %d shares message with %d", r, prev)
		seen[msg] = r
	}
	assert.Equal(t, "Unknown error", TermReason(200).String())
}

func mustMarshal(t *testing.T, m Message) []byte {
	t.Helper()
	data, err := Marshal(m)
	require.NoError(t, err)
	return data
}
