package config

// EnvPrefix is the envconfig prefix shared by every setting.
const EnvPrefix = "UNLOCKIT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "UNLOCKIT_DB_DSN"
	EnvDBHost = "UNLOCKIT_DB_HOST"
	EnvDBUser = "UNLOCKIT_DB_USER"
	EnvDBName = "UNLOCKIT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
