package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
)

// schemaSource constrains the raw TOML document before it is decoded into a
// Manifest. Unknown keys are rejected because the definitions are closed.
const schemaSource = `
#Id: int & >=0 & <=4294967295

#Coefficient: {
	param: #Id
	value: number
}

#Callback: {
	kind: "voltage" | "current" | "param" | "temperature" | "port_connected" | "flow"
	hi?:  #Id
	lo?:  #Id
	coefficients?: [...#Coefficient]

	// operands a kind does not use must be left out or zero
	if kind == "temperature" {
		hi?: 0
	}
	if kind != "voltage" {
		lo?: 0
	}
}

#Raise: {
	unknown: #Id
	by:      #Id
}

#Manifest: {
	project: {
		name: string & !=""
	}
	callback?: [...#Callback]
	raise?: [...#Raise]
	output?: {
		snapshot?: string
		sqlite?:   string
		lock?:     string
	}
}
`

// validate checks a raw vadiff.toml document against the manifest schema.
func validate(data []byte) error {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return err
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("vadiff.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return err
	}

	unified := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}
