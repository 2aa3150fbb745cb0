// Package model defines the schema of the two record kinds the coordinator
// persists to its shard of the coordination log: committed offsets and group
// metadata. Records are compacted by key, latest value wins; an empty value
// is a tombstone.
package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	offsetKeyPrefix = "offset"
	groupKeyPrefix  = "group"
	keySeparator    = "/"
)

// OffsetData is the value of an offset record, keyed by
// (group, topic, partition).
type OffsetData struct {
	Offset          int64  `json:"offset"`
	Metadata        string `json:"metadata,omitempty"`
	CommitTimestamp int64  `json:"commitTimestamp"`
}

// MemberAssignmentData is one member's slice of a committed assignment.
type MemberAssignmentData struct {
	MemberID   string `json:"memberId"`
	Assignment []byte `json:"assignment"`
}

// GroupMetadataData is the value of a group metadata record, keyed by group
// id. Membership itself is not durable; only the last committed generation's
// outcome is.
type GroupMetadataData struct {
	ProtocolType string                 `json:"protocolType"`
	Protocol     string                 `json:"protocol"`
	GenerationID int                    `json:"generationId"`
	LeaderID     string                 `json:"leaderId"`
	Assignments  []MemberAssignmentData `json:"assignments,omitempty"`
}

func OffsetKey(groupID, topic string, partition int) string {
	return offsetKeyPrefix + keySeparator + groupID + keySeparator + topic + keySeparator + strconv.Itoa(partition)
}

// OffsetKeyGroupPrefix is the common prefix of every offset key of a group.
func OffsetKeyGroupPrefix(groupID string) string {
	return offsetKeyPrefix + keySeparator + groupID + keySeparator
}

func GroupMetadataKey(groupID string) string {
	return groupKeyPrefix + keySeparator + groupID
}

func IsOffsetKey(key string) bool {
	return strings.HasPrefix(key, offsetKeyPrefix+keySeparator)
}

func IsGroupMetadataKey(key string) bool {
	return strings.HasPrefix(key, groupKeyPrefix+keySeparator)
}

// ParseOffsetKey splits an offset key back into (group, topic, partition).
// Group ids and topics may not contain the separator; partition is the
// trailing segment so topics are validated by the strconv parse.
func ParseOffsetKey(key string) (groupID, topic string, partition int, err error) {
	if !IsOffsetKey(key) {
		return "", "", 0, errors.Errorf("not an offset key: %s", key)
	}
	parts := strings.Split(key, keySeparator)
	if len(parts) != 4 {
		return "", "", 0, errors.Errorf("malformed offset key: %s", key)
	}
	partition, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, errors.Wrapf(err, "malformed offset key partition: %s", key)
	}
	return parts[1], parts[2], partition, nil
}

// ParseGroupMetadataKey returns the group id of a group metadata key.
func ParseGroupMetadataKey(key string) (string, error) {
	if !IsGroupMetadataKey(key) {
		return "", errors.Errorf("not a group metadata key: %s", key)
	}
	return strings.TrimPrefix(key, groupKeyPrefix+keySeparator), nil
}

func EncodeOffsetData(data *OffsetData) ([]byte, error) {
	value, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "encode offset record")
	}
	return value, nil
}

func DecodeOffsetData(value []byte) (*OffsetData, error) {
	var data OffsetData
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, errors.Wrap(err, "decode offset record")
	}
	return &data, nil
}

func EncodeGroupMetadata(data *GroupMetadataData) ([]byte, error) {
	value, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "encode group metadata record")
	}
	return value, nil
}

func DecodeGroupMetadata(value []byte) (*GroupMetadataData, error) {
	var data GroupMetadataData
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, errors.Wrap(err, "decode group metadata record")
	}
	return &data, nil
}
