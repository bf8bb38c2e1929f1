package ext4

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/diskfs/go-extfs/util"
)

const defaultCacheBlocks = 128

// cachedBlock one block-sized buffer in the cache, with its write-back state
type cachedBlock struct {
	data  []byte
	dirty bool
}

// blockDevice provides buffered, dirty-tracked access to the blocks of a
// util.File. Reads fill a write-back LRU cache; mutation goes through
// modifyBlock, which marks the block dirty when the mutator returns
// successfully. Evicted dirty blocks are flushed immediately; a failed
// evict-time flush can only be logged.
type blockDevice struct {
	file       util.File
	start      int64
	blockSize  uint32
	blockCount uint64
	cache      *lru.Cache
}

func newBlockDevice(f util.File, start int64, blockSize uint32, blockCount uint64, cacheBlocks int) (*blockDevice, error) {
	if cacheBlocks <= 0 {
		cacheBlocks = defaultCacheBlocks
	}
	d := &blockDevice{
		file:       f,
		start:      start,
		blockSize:  blockSize,
		blockCount: blockCount,
	}
	cache, err := lru.NewWithEvict(cacheBlocks, d.onEvict)
	if err != nil {
		return nil, fmt.Errorf("could not create block cache: %w", err)
	}
	d.cache = cache
	return d, nil
}

func (d *blockDevice) onEvict(key, value interface{}) {
	block := key.(uint64)
	cached := value.(*cachedBlock)
	if !cached.dirty {
		return
	}
	if err := d.writeThrough(block, cached.data); err != nil {
		log.WithField("block", block).WithError(err).Error("failed to flush dirty block on cache eviction")
	}
}

func (d *blockDevice) checkRange(block uint64) error {
	if block >= d.blockCount {
		return fmt.Errorf("%w: block %d beyond device block count %d", ErrCorrupted, block, d.blockCount)
	}
	return nil
}

// load fetch the block into the cache, reading from the file on a miss
func (d *blockDevice) load(block uint64) (*cachedBlock, error) {
	if err := d.checkRange(block); err != nil {
		return nil, err
	}
	if value, ok := d.cache.Get(block); ok {
		return value.(*cachedBlock), nil
	}
	data := make([]byte, d.blockSize)
	if _, err := d.file.ReadAt(data, d.start+int64(block)*int64(d.blockSize)); err != nil {
		return nil, fmt.Errorf("could not read block %d: %w", block, err)
	}
	cached := &cachedBlock{data: data}
	d.cache.Add(block, cached)
	return cached, nil
}

// readBlock run fn over the current contents of the block. The bytes are only
// valid for the duration of the call and must not be modified.
func (d *blockDevice) readBlock(block uint64, fn func(b []byte) error) error {
	cached, err := d.load(block)
	if err != nil {
		return err
	}
	return fn(cached.data)
}

// modifyBlock run fn over the block's bytes with leave to modify them. The
// block is marked dirty when fn returns successfully; an error from fn leaves
// the dirty state unchanged and is returned as-is.
func (d *blockDevice) modifyBlock(block uint64, fn func(b []byte) error) error {
	cached, err := d.load(block)
	if err != nil {
		return err
	}
	if err = fn(cached.data); err != nil {
		return err
	}
	cached.dirty = true
	return nil
}

// writeBlock replace the block's contents wholesale
func (d *blockDevice) writeBlock(block uint64, b []byte) error {
	if uint32(len(b)) != d.blockSize {
		return fmt.Errorf("%w: writeBlock requires %d bytes, have %d", ErrInvalidInput, d.blockSize, len(b))
	}
	return d.modifyBlock(block, func(data []byte) error {
		copy(data, b)
		return nil
	})
}

// zeroBlock fill the block with zeroes
func (d *blockDevice) zeroBlock(block uint64) error {
	return d.modifyBlock(block, func(data []byte) error {
		for i := range data {
			data[i] = 0
		}
		return nil
	})
}

func (d *blockDevice) writeThrough(block uint64, b []byte) error {
	if _, err := d.file.WriteAt(b, d.start+int64(block)*int64(d.blockSize)); err != nil {
		return fmt.Errorf("could not write block %d: %w", block, err)
	}
	return nil
}

// flush write every dirty cached block back to the file
func (d *blockDevice) flush() error {
	for _, key := range d.cache.Keys() {
		value, ok := d.cache.Peek(key)
		if !ok {
			continue
		}
		cached := value.(*cachedBlock)
		if !cached.dirty {
			continue
		}
		if err := d.writeThrough(key.(uint64), cached.data); err != nil {
			return err
		}
		cached.dirty = false
	}
	return nil
}
