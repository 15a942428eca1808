package hashlist

import (
	"os"
	"time"
)

type cachedShard struct {
	entries shard
	modTime time.Time
	size    int64
}

// shardCache holds parsed shards and evicts in load order (FIFO). A shard
// rewritten through put keeps its original slot. Entries are dropped when
// the file on disk no longer matches the mod time and size seen at load,
// which happens when another process rewrites the shard.
type shardCache struct {
	capacity int
	order    []string
	items    map[string]*cachedShard
}

func newShardCache(capacity int) *shardCache {
	return &shardCache{
		capacity: capacity,
		items:    make(map[string]*cachedShard, capacity),
	}
}

func (c *shardCache) get(prefix string, info os.FileInfo) (shard, bool) {
	item, ok := c.items[prefix]
	if !ok {
		return nil, false
	}
	if !item.modTime.Equal(info.ModTime()) || item.size != info.Size() {
		c.drop(prefix)
		return nil, false
	}
	return item.entries, true
}

func (c *shardCache) put(prefix string, entries shard, info os.FileInfo) {
	if item, ok := c.items[prefix]; ok {
		item.entries = entries
		item.modTime = info.ModTime()
		item.size = info.Size()
		return
	}
	for len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.order = append(c.order, prefix)
	c.items[prefix] = &cachedShard{entries: entries, modTime: info.ModTime(), size: info.Size()}
}

func (c *shardCache) drop(prefix string) {
	if _, ok := c.items[prefix]; !ok {
		return
	}
	delete(c.items, prefix)
	for i, p := range c.order {
		if p == prefix {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *shardCache) len() int {
	return len(c.items)
}

func (c *shardCache) keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
