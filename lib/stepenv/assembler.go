// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stepenv

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"

	"github.com/skolbin-ssi/azure-pipelines-agent/lib/execution"
)

// WindowsMaxValueLength is the longest environment value Windows
// accepts without truncation.
const WindowsMaxValueLength = 32766

// DefaultMaxValueLength returns the per-value limit of the host
// platform, or 0 when there is none worth warning about.
func DefaultMaxValueLength() int {
	if runtime.GOOS == "windows" {
		return WindowsMaxValueLength
	}
	return 0
}

// Assembler builds the environment of one step invocation. Handlers
// compose an Assembler and call the Add methods they need, in the
// order they need them. Each Add method validates its inputs before
// writing anything, so a ConfigurationError leaves the table
// untouched.
type Assembler struct {
	Table   *Table
	Context *execution.Context

	// MaxValueLength triggers a warning for longer values. Zero
	// disables the check.
	MaxValueLength int

	Logger *slog.Logger
}

// NewAssembler returns an Assembler writing into a fresh Table with
// the host's value limit.
func NewAssembler(ctx *execution.Context) *Assembler {
	logger := slog.New(slog.DiscardHandler)
	if ctx != nil && ctx.Logger != nil {
		logger = ctx.Logger
	}
	return &Assembler{
		Table:          NewTable(),
		Context:        ctx,
		MaxValueLength: DefaultMaxValueLength(),
		Logger:         logger,
	}
}

func (a *Assembler) validate() error {
	if a.Table == nil {
		return execution.Required("assembler.table")
	}
	if a.Context == nil {
		return execution.Required("assembler.context")
	}
	if a.Context.Job == nil || a.Context.Variables == nil {
		return execution.Required("context.variables")
	}
	return nil
}

// set writes one entry. Values are never logged: any of them may be
// a secret.
func (a *Assembler) set(key, value string) {
	a.logger().Debug("setting environment variable", "key", key, "length", len(value))
	if a.MaxValueLength > 0 && len(value) > a.MaxValueLength {
		warning := &execution.EnvironmentValueTooLongWarning{
			Key:     key,
			Length:  len(value),
			Maximum: a.MaxValueLength,
		}
		a.logger().Warn("environment value exceeds platform maximum",
			"key", key, "length", len(value), "maximum", a.MaxValueLength)
		a.Context.Warning(warning.Error())
	}
	a.Table.Set(key, value)
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.Logger
}

// AddEndpoints exposes service connections. Endpoints whose partial
// key cannot be resolved are skipped.
func (a *Assembler) AddEndpoints(endpoints []Endpoint) error {
	if err := a.validate(); err != nil {
		return err
	}
	for _, endpoint := range endpoints {
		key, hasID := endpoint.partialKey()
		if key == "" {
			a.logger().Debug("skipping endpoint without resolvable key", "name", endpoint.Name)
			continue
		}

		a.set("ENDPOINT_URL_"+key, endpoint.URL)
		authorization, err := encodeJSON(endpoint.Authorization, endpoint.Authorization == nil)
		if err != nil {
			return fmt.Errorf("encoding authorization of endpoint %q: %w", endpoint.Name, err)
		}
		a.set("ENDPOINT_AUTH_"+key, authorization)

		if endpoint.Authorization != nil && endpoint.Authorization.Scheme != "" {
			a.set("ENDPOINT_AUTH_SCHEME_"+key, endpoint.Authorization.Scheme)
			for _, name := range sortedKeys(endpoint.Authorization.Parameters) {
				a.set("ENDPOINT_AUTH_PARAMETER_"+key+"_"+FormatName(name, false), endpoint.Authorization.Parameters[name])
			}
		}

		if !hasID {
			continue
		}
		data, err := encodeJSON(endpoint.Data, endpoint.Data == nil)
		if err != nil {
			return fmt.Errorf("encoding data of endpoint %q: %w", endpoint.Name, err)
		}
		a.set("ENDPOINT_DATA_"+key, data)
		for _, name := range sortedKeys(endpoint.Data) {
			a.set("ENDPOINT_DATA_"+key+"_"+FormatName(name, false), endpoint.Data[name])
		}
	}
	return nil
}

// AddSecureFiles exposes the name and ticket of each secure file with
// an ID.
func (a *Assembler) AddSecureFiles(files []SecureFile) error {
	if err := a.validate(); err != nil {
		return err
	}
	for _, file := range files {
		if file.ID == "" {
			continue
		}
		a.set("SECUREFILE_NAME_"+file.ID, file.Name)
		a.set("SECUREFILE_TICKET_"+file.ID, file.Ticket)
	}
	return nil
}

// AddInputs exposes task inputs as INPUT_<NAME>, in name order.
func (a *Assembler) AddInputs(inputs map[string]string) error {
	if err := a.validate(); err != nil {
		return err
	}
	for _, name := range sortedKeys(inputs) {
		a.set("INPUT_"+FormatName(name, false), inputs[name])
	}
	return nil
}

// AddVariables exposes the job variables. Public variables appear
// under their formatted name, and agent.jobstatus additionally under
// its literal name. Secret variables appear only as SECRET_<NAME>,
// and only when excludeSecrets is false. The VSTS_*_VARIABLES name
// lists are omitted when excludeNames is set.
func (a *Assembler) AddVariables(excludeNames, excludeSecrets bool) error {
	if err := a.validate(); err != nil {
		return err
	}

	var publicNames []string
	for _, variable := range a.Context.Variables.Public() {
		publicNames = append(publicNames, variable.Name)
		a.set(FormatName(variable.Name, variable.PreserveCase), variable.Value)
		if strings.EqualFold(variable.Name, execution.JobStatusVariable) {
			a.set(execution.JobStatusVariable, variable.Value)
		}
	}
	if !excludeNames {
		if err := a.setNameList("VSTS_PUBLIC_VARIABLES", publicNames); err != nil {
			return err
		}
	}

	if excludeSecrets {
		return nil
	}
	var secretNames []string
	for _, variable := range a.Context.Variables.Secret() {
		secretNames = append(secretNames, variable.Name)
		a.set("SECRET_"+FormatName(variable.Name, variable.PreserveCase), variable.Value)
	}
	if !excludeNames {
		return a.setNameList("VSTS_SECRET_VARIABLES", secretNames)
	}
	return nil
}

func (a *Assembler) setNameList(key string, names []string) error {
	if names == nil {
		names = []string{}
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	a.set(key, string(encoded))
	return nil
}

// AddTaskVariables exposes task-scoped variables, public and secret,
// as VSTS_TASKVARIABLE_<NAME>.
func (a *Assembler) AddTaskVariables() error {
	if err := a.validate(); err != nil {
		return err
	}
	if a.Context.TaskVariables == nil {
		return nil
	}
	variables := append(a.Context.TaskVariables.Public(), a.Context.TaskVariables.Secret()...)
	for _, variable := range variables {
		a.set("VSTS_TASKVARIABLE_"+FormatName(variable.Name, variable.PreserveCase), variable.Value)
	}
	return nil
}

// AddPrependPath applies the job's PATH prepend list. The most
// recently registered directory comes first. For a container step the
// joined list is handed to the container target instead of PATH.
func (a *Assembler) AddPrependPath() error {
	if err := a.validate(); err != nil {
		return err
	}
	directories := a.Context.PrependPath()
	if len(directories) == 0 {
		return nil
	}
	slices.Reverse(directories)
	prepend := strings.Join(directories, string(os.PathListSeparator))

	if container := a.Context.Target; container != nil {
		container.PrependPath = prepend
		a.logger().Debug("prepend path handed to container", "container", container.Name, "entries", len(directories))
		return nil
	}

	a.set(execution.PathVariable, joinPath(prepend, a.originalPath()))
	return nil
}

// originalPath resolves the PATH the prepend list is merged onto: the
// job variable, then the table, then the live environment.
func (a *Assembler) originalPath() string {
	if value, exists := a.Context.Variables.Lookup(execution.PathVariable); exists {
		return value
	}
	if value, exists := a.Table.Lookup(execution.PathVariable); exists {
		return value
	}
	if a.Context.Live != nil {
		if value, exists := a.Context.Live.Lookup(execution.PathVariable); exists {
			return value
		}
	}
	return ""
}

func joinPath(prepend, current string) string {
	if current == "" {
		return prepend
	}
	return prepend + string(os.PathListSeparator) + current
}

// encodeJSON returns "" when absent is set and the compact JSON
// encoding of value otherwise.
func encodeJSON(value any, absent bool) (string, error) {
	if absent {
		return "", nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
