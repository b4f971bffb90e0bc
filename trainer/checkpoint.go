package trainer

import (
	"fmt"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/speechcrnn/crnn"
	"github.com/unixpickle/speechcrnn/vocab"
)

// A Checkpoint bundles everything needed to resume a
// training run: the network, the vocabulary it was trained
// against, the optimizer state, and the number of
// completed epochs.
type Checkpoint struct {
	// Epoch is the number of fully completed epochs.
	Epoch int

	Vocab *vocab.Vocab
	Net   *crnn.Network

	// Opt may be nil, in which case no optimizer state is
	// stored.
	Opt *Adam
}

// Save writes the checkpoint to a file.
//
// The file is written to a temporary path and then renamed
// into place, so a crash mid-write cannot clobber an
// existing checkpoint.
func (c *Checkpoint) Save(path string) error {
	objs := []serializer.Serializer{
		serializer.Int(c.Epoch),
		c.Vocab,
		c.Net,
	}
	if c.Opt != nil {
		optObjs, err := c.Opt.stateObjects()
		if err != nil {
			return essentials.AddCtx("save checkpoint", err)
		}
		objs = append(objs, optObjs...)
	}
	data, err := serializer.SerializeSlice(objs)
	if err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint from a file.
//
// The resulting optimizer is parameterized over the loaded
// network's parameters.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load checkpoint", err)
	}
	objs, err := serializer.DeserializeSlice(data)
	if err != nil {
		return nil, essentials.AddCtx("load checkpoint", err)
	}
	if len(objs) < 3 {
		return nil, fmt.Errorf("load checkpoint: expected at least 3 objects "+
			"but got %d", len(objs))
	}
	epoch, ok := objs[0].(serializer.Int)
	if !ok {
		return nil, fmt.Errorf("load checkpoint: bad epoch type: %T", objs[0])
	}
	voc, ok := objs[1].(*vocab.Vocab)
	if !ok {
		return nil, fmt.Errorf("load checkpoint: bad vocabulary type: %T", objs[1])
	}
	net, ok := objs[2].(*crnn.Network)
	if !ok {
		return nil, fmt.Errorf("load checkpoint: bad network type: %T", objs[2])
	}
	opt := &Adam{Params: net.Parameters()}
	if len(objs) > 3 {
		if err := opt.restoreState(objs[3:]); err != nil {
			return nil, essentials.AddCtx("load checkpoint", err)
		}
	}
	return &Checkpoint{
		Epoch: int(epoch),
		Vocab: voc,
		Net:   net,
		Opt:   opt,
	}, nil
}
