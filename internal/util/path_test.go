package util

import "testing"

func TestArchiveKey(t *testing.T) {
	key := ArchiveKey("/offsite/", "my shop", "shop_backup_20240101_100000", ".zst", true)
	if key != "offsite/my_shop/shop_backup_20240101_100000.tar.zst.enc" {
		t.Fatalf("unexpected key: %s", key)
	}
	if got := ArchiveKey("", "", "backup_20240101_100000", "", false); got != "backup_20240101_100000.tar" {
		t.Fatalf("unexpected key without prefix: %s", got)
	}
}

func TestArchivePrefix(t *testing.T) {
	if prefix := ArchivePrefix("offsite", "a/b"); prefix != "offsite/a-b" {
		t.Fatalf("unexpected prefix: %s", prefix)
	}
	if prefix := ArchivePrefix("", ".."); prefix != "" {
		t.Fatalf("dot segments must be dropped: %s", prefix)
	}
}

func TestBundleFromKey(t *testing.T) {
	if name := BundleFromKey("offsite/shop/backup_20240101_100000.tar.gz.enc"); name != "backup_20240101_100000" {
		t.Fatalf("unexpected bundle: %s", name)
	}
}
