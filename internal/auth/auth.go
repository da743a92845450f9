// Package auth holds the named credentials actions reference when calling the SUT.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var (
	// ErrBlankName is returned when an AuthenticationInfo is built without a name
	ErrBlankName = errors.New("authentication name must not be blank")
	// ErrDuplicateName is returned when two credentials share a name
	ErrDuplicateName = errors.New("duplicate authentication name")
)

// Info is an immutable named credential. Actions reference it by name.
type Info struct {
	name    string
	headers map[string]string
	cookies map[string]string
}

// NewInfo builds a credential; a blank name is rejected and no Info is returned
func NewInfo(name string, headers, cookies map[string]string) (*Info, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrBlankName
	}
	return &Info{
		name:    name,
		headers: copyMap(headers),
		cookies: copyMap(cookies),
	}, nil
}

// FromDto converts a credential declared by the driver
func FromDto(dto types.AuthenticationDto) (*Info, error) {
	headers := make(map[string]string, len(dto.Headers))
	for _, h := range dto.Headers {
		headers[h.Name] = h.Value
	}
	cookies := make(map[string]string, len(dto.Cookies))
	for _, c := range dto.Cookies {
		cookies[c.Name] = c.Value
	}
	info, err := NewInfo(dto.Name, headers, cookies)
	if err != nil {
		return nil, fmt.Errorf("authentication from driver: %w", err)
	}
	return info, nil
}

// Name returns the credential name
func (i *Info) Name() string { return i.name }

// Headers returns a copy of the credential headers
func (i *Info) Headers() map[string]string { return copyMap(i.headers) }

// Cookies returns a copy of the credential cookies
func (i *Info) Cookies() map[string]string { return copyMap(i.cookies) }

// Apply attaches the credential to req, overriding headers and cookies of the same name
func (i *Info) Apply(req *types.HTTPRequest) {
	if i == nil || req == nil {
		return
	}
	if len(i.headers) > 0 && req.Headers == nil {
		req.Headers = make(map[string]string, len(i.headers))
	}
	for k, v := range i.headers {
		req.Headers[k] = v
	}
	if len(i.cookies) > 0 && req.Cookies == nil {
		req.Cookies = make(map[string]string, len(i.cookies))
	}
	for k, v := range i.cookies {
		req.Cookies[k] = v
	}
}

func (i *Info) String() string {
	keys := make([]string, 0, len(i.headers))
	for k := range i.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s(headers=%v)", i.name, keys)
}

// Registry is the set of credentials declared for one SUT, in declaration order
type Registry struct {
	infos  []*Info
	byName map[string]*Info
}

// NewRegistry creates a registry from infos; names must be unique
func NewRegistry(infos ...*Info) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Info, len(infos))}
	for _, info := range infos {
		if err := r.Add(info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegistryFromDtos builds a registry from the driver's infoSUT declaration
func RegistryFromDtos(dtos []types.AuthenticationDto) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Info, len(dtos))}
	for _, dto := range dtos {
		info, err := FromDto(dto)
		if err != nil {
			return nil, err
		}
		if err := r.Add(info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers info
func (r *Registry) Add(info *Info) error {
	if info == nil {
		return ErrBlankName
	}
	if _, exists := r.byName[info.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, info.name)
	}
	r.infos = append(r.infos, info)
	r.byName[info.name] = info
	return nil
}

// Get returns the credential called name
func (r *Registry) Get(name string) (*Info, bool) {
	if r == nil {
		return nil, false
	}
	info, ok := r.byName[name]
	return info, ok
}

// Names returns credential names in declaration order
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.infos))
	for i, info := range r.infos {
		names[i] = info.name
	}
	return names
}

// Len returns the number of credentials
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.infos)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
