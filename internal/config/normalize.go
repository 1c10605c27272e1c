package config

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// IdentityResolver maps user and group names to numeric ids.
type IdentityResolver interface {
	LookupUser(name string) (uid, gid int, err error)
	LookupGroup(name string) (gid int, err error)
	LookupUID(uid int) (name string, gid int, err error)
}

// OSIdentityResolver resolves identities from the host user database.
type OSIdentityResolver struct{}

// LookupUser returns the uid and primary gid of the named user.
func (OSIdentityResolver) LookupUser(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	return atoiPair(u.Uid, u.Gid)
}

// LookupGroup returns the gid of the named group.
func (OSIdentityResolver) LookupGroup(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// LookupUID returns the user name and primary gid for uid.
func (OSIdentityResolver) LookupUID(uid int) (string, int, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", 0, err
	}
	gid, err := strconv.Atoi(u.Gid)
	return u.Username, gid, err
}

func atoiPair(a, b string) (int, int, error) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(b)
	return x, y, err
}

// Normalize expands path placeholders and resolves the run-as identity.
func (c *DaemonConfig) Normalize(resolver IdentityResolver) error {
	c.AppName = strings.TrimSpace(c.AppName)
	c.expandPaths()

	if resolver == nil {
		resolver = OSIdentityResolver{}
	}
	return c.normalizeIdentity(resolver)
}

func (c *DaemonConfig) expandPaths() {
	c.AppPidLocation = c.Expand(c.AppPidLocation)
	c.LogLocation = c.Expand(c.LogLocation)
	c.AppDir = c.Expand(c.AppDir)
}

func (c *DaemonConfig) normalizeIdentity(r IdentityResolver) error {
	if c.AppUser != "" && c.AppRunAsUID == nil {
		uid, gid, err := r.LookupUser(c.AppUser)
		if err != nil {
			return fmt.Errorf("%w: appUser %q: %v", domain.ErrConfigInvalid, c.AppUser, err)
		}
		c.AppRunAsUID = &uid
		if c.AppRunAsGID == nil && c.AppGroup == "" {
			c.AppRunAsGID = &gid
		}
	}
	if c.AppGroup != "" && c.AppRunAsGID == nil {
		gid, err := r.LookupGroup(c.AppGroup)
		if err != nil {
			return fmt.Errorf("%w: appGroup %q: %v", domain.ErrConfigInvalid, c.AppGroup, err)
		}
		c.AppRunAsGID = &gid
	}
	if c.AppRunAsUID != nil && (c.AppRunAsGID == nil || c.AppUser == "") {
		name, gid, err := r.LookupUID(*c.AppRunAsUID)
		if err != nil {
			// A missing GID cannot be derived; Validate reports it.
			return nil
		}
		if c.AppUser == "" {
			c.AppUser = name
		}
		if c.AppRunAsGID == nil {
			c.AppRunAsGID = &gid
		}
	}
	return nil
}
