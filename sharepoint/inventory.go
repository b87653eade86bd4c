package sharepoint

import (
	"context"
	"path"

	azidentity "github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
)

// InventoryEntry is one remote file discovered under a sync config's folder.
type InventoryEntry struct {
	ItemID       string
	RelativePath string
	Name         string
	ETag         string
	SizeBytes    int64
	DownloadURL  string
}

// Inventory fetches the remote folder listing (recursive per config), with
// size limits and include/exclude globs applied.
type Inventory interface {
	Fetch(ctx context.Context, cfg *SyncConfig) ([]InventoryEntry, error)
}

// GraphInventory is a Microsoft Graph-backed Inventory, constructed the same
// way cloud/azuregraph.go builds its client: client-credentials auth plus
// the default Graph scope.
type GraphInventory struct{}

func NewGraphInventory() *GraphInventory { return &GraphInventory{} }

func (g *GraphInventory) Fetch(ctx context.Context, cfg *SyncConfig) ([]InventoryEntry, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, err
	}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, err
	}

	var entries []InventoryEntry
	if err := g.walk(ctx, client, cfg, cfg.FolderID, "", &entries); err != nil {
		return nil, err
	}
	return filterInventory(entries, cfg), nil
}

func (g *GraphInventory) walk(ctx context.Context, client *msgraphsdk.GraphServiceClient, cfg *SyncConfig, folderID, relativePrefix string, out *[]InventoryEntry) error {
	resp, err := client.Drives().ByDriveId(cfg.DriveID).Items().ByDriveItemId(folderID).Children().Get(ctx, nil)
	if err != nil {
		return err
	}

	iter, err := msgraphcore.NewPageIterator[models.DriveItemable](
		resp, client.GetAdapter(), models.CreateDriveItemCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return err
	}

	var walkErr error
	_ = iter.Iterate(ctx, func(item models.DriveItemable) bool {
		if item.GetFolder() != nil {
			if cfg.Recursive {
				childPath := path.Join(relativePrefix, derefString(item.GetName()))
				if err := g.walk(ctx, client, cfg, derefString(item.GetId()), childPath, out); err != nil {
					walkErr = err
					return false
				}
			}
			return true
		}

		entry := InventoryEntry{
			ItemID:       derefString(item.GetId()),
			Name:         derefString(item.GetName()),
			RelativePath: relativePrefix,
		}
		if etag := item.GetETag(); etag != nil {
			entry.ETag = *etag
		}
		if size := item.GetSize(); size != nil {
			entry.SizeBytes = *size
		}
		if dl, ok := item.GetAdditionalData()["@microsoft.graph.downloadUrl"].(string); ok {
			entry.DownloadURL = dl
		}
		*out = append(*out, entry)
		return true
	})
	return walkErr
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func filterInventory(entries []InventoryEntry, cfg *SyncConfig) []InventoryEntry {
	var filtered []InventoryEntry
	for _, e := range entries {
		if cfg.MaxFileSizeBytes > 0 && e.SizeBytes > cfg.MaxFileSizeBytes {
			continue
		}
		if !matchesGlobs(e.Name, cfg.IncludePatterns, cfg.ExcludePatterns) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func matchesGlobs(name string, include, exclude []string) bool {
	for _, pat := range exclude {
		if ok, _ := path.Match(pat, name); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}
