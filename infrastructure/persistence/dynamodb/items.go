package dynamodb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"knowgraph/application/ports"
	"knowgraph/domain/graph"
	"knowgraph/domain/versioning"
	"knowgraph/pkg/utils"
)

// Single-table layout:
//
//	PK = GRAPH#<graphID>   SK = CURRENT             mutable current row
//	PK = GRAPH#<graphID>   SK = VERSION#0000000007  immutable snapshot
//
// Zero padding keeps SK order equal to numeric version order.
const (
	entityGraph    = "GRAPH"
	entitySnapshot = "SNAPSHOT"

	skCurrent       = "CURRENT"
	skVersionPrefix = "VERSION#"
)

func graphPK(graphID string) string {
	return "GRAPH#" + graphID
}

func snapshotSK(version int) string {
	return fmt.Sprintf("%s%010d", skVersionPrefix, version)
}

func parseSnapshotSK(sk string) (int, error) {
	if !strings.HasPrefix(sk, skVersionPrefix) {
		return 0, fmt.Errorf("not a snapshot key: %q", sk)
	}
	return strconv.Atoi(strings.TrimPrefix(sk, skVersionPrefix))
}

// currentItem is the DynamoDB item of a graph's current row
type currentItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	GraphID       string `dynamodbav:"GraphID"`
	Title         string `dynamodbav:"Title"`
	Description   string `dynamodbav:"Description"`
	CreatedBy     string `dynamodbav:"CreatedBy"`
	Version       int    `dynamodbav:"Version"`
	FormatVersion int    `dynamodbav:"FormatVersion"`
	Data          string `dynamodbav:"Data"`
	UpdatedAt     string `dynamodbav:"UpdatedAt"`
}

// snapshotItem is the DynamoDB item of one history snapshot
type snapshotItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	SnapshotID    string `dynamodbav:"SnapshotID"`
	GraphID       string `dynamodbav:"GraphID"`
	Version       int    `dynamodbav:"Version"`
	FormatVersion int    `dynamodbav:"FormatVersion"`
	Checksum      string `dynamodbav:"Checksum,omitempty"`
	Data          string `dynamodbav:"Data"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
}

func newCurrentItem(rec ports.CurrentRecord) currentItem {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return currentItem{
		PK:            graphPK(rec.ID),
		SK:            skCurrent,
		EntityType:    entityGraph,
		GraphID:       rec.ID,
		Title:         rec.Title,
		Description:   rec.Description,
		CreatedBy:     rec.CreatedBy,
		Version:       rec.Version,
		FormatVersion: rec.FormatVersion,
		Data:          string(rec.Data),
		UpdatedAt:     utils.FormatTimestamp(updatedAt),
	}
}

func (i currentItem) record() *ports.CurrentRecord {
	updatedAt, _ := utils.ParseTimestamp(i.UpdatedAt)
	return &ports.CurrentRecord{
		ID:            i.GraphID,
		Title:         i.Title,
		Description:   i.Description,
		CreatedBy:     i.CreatedBy,
		Version:       i.Version,
		FormatVersion: i.FormatVersion,
		Data:          []byte(i.Data),
		UpdatedAt:     updatedAt,
	}
}

func (i currentItem) summary() graph.Summary {
	updatedAt, _ := utils.ParseTimestamp(i.UpdatedAt)
	return graph.Summary{
		ID:          i.GraphID,
		Title:       i.Title,
		Description: i.Description,
		CreatedBy:   i.CreatedBy,
		Version:     i.Version,
		UpdatedAt:   updatedAt,
	}
}

func newSnapshotItem(snap versioning.Snapshot) snapshotItem {
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return snapshotItem{
		PK:            graphPK(snap.GraphID),
		SK:            snapshotSK(snap.Version),
		EntityType:    entitySnapshot,
		SnapshotID:    snap.ID,
		GraphID:       snap.GraphID,
		Version:       snap.Version,
		FormatVersion: snap.FormatVersion,
		Checksum:      snap.Checksum,
		Data:          string(snap.Data),
		CreatedAt:     utils.FormatTimestamp(createdAt),
	}
}

func (i snapshotItem) snapshot() *versioning.Snapshot {
	createdAt, _ := utils.ParseTimestamp(i.CreatedAt)
	return &versioning.Snapshot{
		ID:            i.SnapshotID,
		GraphID:       i.GraphID,
		Version:       i.Version,
		FormatVersion: i.FormatVersion,
		Checksum:      i.Checksum,
		Data:          []byte(i.Data),
		CreatedAt:     createdAt,
	}
}

func (i snapshotItem) entry() versioning.VersionEntry {
	createdAt, _ := utils.ParseTimestamp(i.CreatedAt)
	return versioning.VersionEntry{
		Version:   i.Version,
		Timestamp: createdAt,
		Checksum:  i.Checksum,
	}
}
