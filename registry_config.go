package rcu9

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PumpConfig is one entry of the human-editable parameter configuration
// document: wire-format parameters plus the register table for a single
// logical pump model.
type PumpConfig struct {
	Baudrate   int              `yaml:"baudrate"`
	BitMode    string           `yaml:"bit_mode"`
	Parity     string           `yaml:"parity"`
	CmdData    int              `yaml:"cmd_data"`
	MasterAddr int              `yaml:"master_addr"`
	RCUAddr    int              `yaml:"rcu_addr"`
	Ack        int              `yaml:"ack"`
	Enq        int              `yaml:"enq"`
	Nak        int              `yaml:"nak"`
	Etx        int              `yaml:"etx"`
	Registers  []RegisterConfig `yaml:"registers"`
}

// RegisterConfig is one register entry in the configuration document,
// corresponding one-to-one with a Definition.
type RegisterConfig struct {
	Index     int              `yaml:"index"`
	Name      string           `yaml:"name"`
	Size      int              `yaml:"size"`
	Factor    float64          `yaml:"factor"`
	Unit      string           `yaml:"unit"`
	Writable  bool             `yaml:"writable"`
	Menu      string           `yaml:"menu,omitempty"`
	Min       *int64           `yaml:"min,omitempty"`
	Max       *int64           `yaml:"max,omitempty"`
	Step      *int64           `yaml:"step,omitempty"`
	BitFields []BitFieldConfig `yaml:"bit_fields,omitempty"`
}

// BitFieldConfig is one bit_fields entry of a RegisterConfig.
type BitFieldConfig struct {
	Name      string            `yaml:"name"`
	Mask      int               `yaml:"mask"`
	SortOrder int               `yaml:"sort_order"`
	ValueMap  map[uint32]string `yaml:"value_map,omitempty"`
}

// pumpConfigDoc is the top-level shape of the configuration document: a map
// keyed by logical pump name.
type pumpConfigDoc map[string]PumpConfig

// LoadRegistryConfig parses a configuration document and builds a Registry
// from the named pump's register table. If pumpName is empty and the
// document contains exactly one entry, that entry is used. unknownWidth is
// passed through to NewRegistry unchanged.
func LoadRegistryConfig(data []byte, pumpName string, unknownWidth int) (*Registry, *PumpConfig, error) {
	var doc pumpConfigDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if pumpName == "" {
		if len(doc) != 1 {
			return nil, nil, fmt.Errorf("%w: pump name required when document has %d entries", ErrInvalidConfig, len(doc))
		}
		for name := range doc {
			pumpName = name
		}
	}
	cfg, ok := doc[pumpName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no pump named %q in configuration document", ErrInvalidConfig, pumpName)
	}

	defs := make([]Definition, 0, len(cfg.Registers))
	for _, rc := range cfg.Registers {
		if rc.Index < 0 || rc.Index > 0xFF {
			return nil, nil, fmt.Errorf("%w: register index %d out of byte range", ErrInvalidConfig, rc.Index)
		}
		def := Definition{
			Index:    byte(rc.Index),
			Name:     rc.Name,
			Size:     rc.Size,
			Factor:   rc.Factor,
			Unit:     rc.Unit,
			Writable: rc.Writable,
			Menu:     rc.Menu,
			Min:      rc.Min,
			Max:      rc.Max,
			Step:     rc.Step,
		}
		for _, bf := range rc.BitFields {
			if bf.Mask < 0 || bf.Mask > 0xFFFF {
				return nil, nil, fmt.Errorf("%w: bitfield %q mask %d out of uint16 range", ErrInvalidConfig, bf.Name, bf.Mask)
			}
			def.Bitfields = append(def.Bitfields, BitfieldDef{
				Name:      bf.Name,
				Mask:      uint16(bf.Mask),
				SortOrder: bf.SortOrder,
				ValueMap:  bf.ValueMap,
			})
		}
		defs = append(defs, def)
	}

	reg, err := NewRegistry(defs, unknownWidth)
	if err != nil {
		return nil, nil, err
	}
	return reg, &cfg, nil
}
