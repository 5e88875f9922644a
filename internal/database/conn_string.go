package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
)

// ApplicationName identifies our sessions in pg_stat_activity.
const ApplicationName = "commscore"

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	// url.URL escapes special characters in the password
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
