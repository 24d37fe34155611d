package rest

import (
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// allowList is the set of networks permitted to reach the API.
type allowList []netip.Prefix

// parseAllowList skips entries that are not valid CIDRs.
func parseAllowList(cidrs []string, log *zap.Logger) allowList {
	list := make(allowList, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			log.Warn("ignoring allowed_cidrs entry", zap.String("cidr", cidr), zap.Error(err))
			continue
		}
		list = append(list, p.Masked())
	}
	return list
}

func (l allowList) permits(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range l {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ipAllowList answers 403 to clients outside the configured networks.
func ipAllowList(cidrs []string, log *zap.Logger) gin.HandlerFunc {
	list := parseAllowList(cidrs, log)
	log.Info("client allow-list active", zap.Int("networks", len(list)))

	return func(c *gin.Context) {
		addr, err := netip.ParseAddr(c.ClientIP())
		if err != nil || !list.permits(addr) {
			log.Warn("client rejected by allow-list",
				zap.String("client_ip", c.ClientIP()),
				zap.String("remote_addr", c.Request.RemoteAddr),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}
