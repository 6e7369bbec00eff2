package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/fairstake/tickets/internal/domain"
)

// TicketMetadata is the ERC-721 metadata JSON document of a ticket.
type TicketMetadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// Attribute is one OpenSea-style trait.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// MetadataUploader writes a metadata document per ticket and returns its
// public URL. It implements domain.TicketURIProvider.
type MetadataUploader struct {
	writer domain.BlobWriter
	exists func(ctx context.Context, path string) (bool, error)
	url    func(key string) string
	image  string
}

var _ domain.TicketURIProvider = (*MetadataUploader)(nil)

// NewMetadataUploader stores documents through writer and resolves them with
// c.ObjectURL. Documents reader already holds are not rewritten, so a ticket
// claim retried after a failure keeps its URI. image is an optional artwork
// URL shared by every ticket.
func NewMetadataUploader(writer domain.BlobWriter, reader domain.BlobReader, c *Client, image string) *MetadataUploader {
	m := &MetadataUploader{writer: writer, url: c.ObjectURL, image: image}
	if reader != nil {
		m.exists = reader.Exists
	}
	return m
}

// BuildMetadata renders the document for attrs.
func BuildMetadata(attrs domain.TicketAttributes, image string) TicketMetadata {
	ticketID := fmt.Sprintf("%d-%s-%d", attrs.EventID, attrs.Class, attrs.StakeID)
	return TicketMetadata{
		Name:        fmt.Sprintf("%s - Tier %s", attrs.EventName, attrs.Class),
		Description: fmt.Sprintf("Soulbound ticket for %s, tier %s, won in a verifiable draw.", attrs.EventName, attrs.Class),
		Image:       image,
		Attributes: []Attribute{
			{TraitType: "Event", Value: attrs.EventName},
			{TraitType: "Tier", Value: attrs.Class.String()},
			{TraitType: "Ticket ID", Value: ticketID},
			{TraitType: "Type", Value: "Soulbound"},
		},
	}
}

func metadataPath(attrs domain.TicketAttributes) string {
	return fmt.Sprintf("metadata/events/%d/%s/%d.json", attrs.EventID, attrs.Class, attrs.StakeID)
}

func (m *MetadataUploader) TicketURI(ctx context.Context, attrs domain.TicketAttributes) (string, error) {
	path := metadataPath(attrs)
	if m.exists != nil {
		if ok, err := m.exists(ctx, path); err == nil && ok {
			return m.url(path), nil
		}
	}
	doc, err := json.Marshal(BuildMetadata(attrs, m.image))
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal ticket metadata: %w", err)
	}
	if err := m.writer.Put(ctx, path, bytes.NewReader(doc), "application/json"); err != nil {
		return "", err
	}
	return m.url(path), nil
}
