package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts Watermill message metadata into mbus metadata.
// The channel transport uses this to lift tracing pairs off messages.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill converts mbus metadata into a Watermill metadata map.
func ToWatermill(metadata Metadata) message.Metadata {
	if len(metadata) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}
