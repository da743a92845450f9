package types

import "encoding/json"

// Controller API paths, relative to BasePath
const (
	BasePath            = "/controller/api"
	InfoSUTPath         = "/infoSUT"
	RunSUTPath          = "/runSUT"
	NewSearchPath       = "/newSearch"
	NewActionPath       = "/newAction"
	TestResultsPath     = "/testResults"
	ExtraHeuristicsPath = "/extraHeuristics"
	ControllerInfoPath  = "/controllerInfo"
	DatabaseCommandPath = "/databaseCommand"
)

// WrappedResponseDto is the envelope every controller response uses
type WrappedResponseDto struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ControllerInfoDto describes the driver itself
type ControllerInfoDto struct {
	FullName            string `json:"fullName,omitempty" yaml:"full_name,omitempty"`
	IsInstrumentationOn bool   `json:"isInstrumentationOn" yaml:"instrumentation_on"`
	Version             string `json:"version,omitempty" yaml:"version,omitempty"`
}

// SutRunDto asks the driver to start, stop or reset the SUT
type SutRunDto struct {
	Run                    *bool `json:"run,omitempty"`
	ResetState             *bool `json:"resetState,omitempty"`
	CalculateSQLHeuristics *bool `json:"calculateSqlHeuristics,omitempty"`
}

// SutInfoDto is the static description of the SUT
type SutInfoDto struct {
	BaseURLOfSUT          string              `json:"baseUrlOfSUT,omitempty" yaml:"base_url,omitempty"`
	RestProblem           *RestProblemDto     `json:"restProblem,omitempty" yaml:"rest_problem,omitempty"`
	GraphQLProblem        *GraphQLProblemDto  `json:"graphQLProblem,omitempty" yaml:"graphql_problem,omitempty"`
	RPCProblem            *RPCProblemDto      `json:"rpcProblem,omitempty" yaml:"rpc_problem,omitempty"`
	InfoForAuthentication []AuthenticationDto `json:"infoForAuthentication,omitempty" yaml:"authentication,omitempty"`
	SQLSchemaDto          *DbSchemaDto        `json:"sqlSchemaDto,omitempty" yaml:"sql_schema,omitempty"`
	ExternalStubs         []ExternalStubDto   `json:"externalStubs,omitempty" yaml:"external_stubs,omitempty"`
}

// ProblemType returns which kind of API the SUT exposes
func (s *SutInfoDto) ProblemType() string {
	switch {
	case s.RestProblem != nil:
		return "rest"
	case s.GraphQLProblem != nil:
		return "graphql"
	case s.RPCProblem != nil:
		return "rpc"
	default:
		return ""
	}
}

// RestProblemDto locates an OpenAPI schema
type RestProblemDto struct {
	OpenAPIURL      string   `json:"openApiUrl,omitempty" yaml:"openapi_url,omitempty"`
	OpenAPISchema   string   `json:"openApiSchema,omitempty" yaml:"-"`
	EndpointsToSkip []string `json:"endpointsToSkip,omitempty" yaml:"endpoints_to_skip,omitempty"`
}

// GraphQLProblemDto locates a GraphQL endpoint
type GraphQLProblemDto struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// RPCProblemDto lists the RPC interfaces the driver can invoke
type RPCProblemDto struct {
	Schemas []RPCInterfaceSchemaDto `json:"schemas" yaml:"schemas"`
}

// RPCInterfaceSchemaDto is one RPC service
type RPCInterfaceSchemaDto struct {
	InterfaceID string                 `json:"interfaceId" yaml:"interface_id"`
	Endpoints   []RPCEndpointSchemaDto `json:"endpoints" yaml:"endpoints"`
}

// RPCEndpointSchemaDto is one RPC method
type RPCEndpointSchemaDto struct {
	ActionName    string           `json:"actionName" yaml:"action_name"`
	RequestParams []ParamSchemaDto `json:"requestParams,omitempty" yaml:"request_params,omitempty"`
}

// ParamSchemaDto is a flat parameter description shared by RPC and SQL schemas
type ParamSchemaDto struct {
	Name      string   `json:"name" yaml:"name"`
	Type      string   `json:"type" yaml:"type"` // INT, LONG, DOUBLE, BOOLEAN, STRING, ENUM
	Nullable  bool     `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	MinValue  *float64 `json:"minValue,omitempty" yaml:"min_value,omitempty"`
	MaxValue  *float64 `json:"maxValue,omitempty" yaml:"max_value,omitempty"`
	MaxLength int      `json:"maxLength,omitempty" yaml:"max_length,omitempty"`
	EnumItems []string `json:"enumItems,omitempty" yaml:"enum_items,omitempty"`
}

// DbSchemaDto is the SQL schema of the SUT database
type DbSchemaDto struct {
	DatabaseType string     `json:"databaseType,omitempty" yaml:"database_type,omitempty"`
	Tables       []TableDto `json:"tables" yaml:"tables"`
}

// TableDto is one SQL table
type TableDto struct {
	Name    string      `json:"name" yaml:"name"`
	Columns []ColumnDto `json:"columns" yaml:"columns"`
}

// ColumnDto is one SQL column
type ColumnDto struct {
	Name          string `json:"name" yaml:"name"`
	Type          string `json:"type" yaml:"type"`
	Size          int    `json:"size,omitempty" yaml:"size,omitempty"`
	Nullable      bool   `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	PrimaryKey    bool   `json:"primaryKey,omitempty" yaml:"primary_key,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty" yaml:"auto_increment,omitempty"`
}

// ExternalStubDto declares an external service the SUT calls, to be stubbed
type ExternalStubDto struct {
	Name     string `json:"name" yaml:"name"`
	AdminURL string `json:"adminUrl" yaml:"admin_url"`
	Path     string `json:"path" yaml:"path"`
}

// AuthenticationDto is a credential the driver declares
type AuthenticationDto struct {
	Name    string      `json:"name" yaml:"name"`
	Headers []HeaderDto `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies []HeaderDto `json:"cookies,omitempty" yaml:"cookies,omitempty"`
}

// HeaderDto is a name/value pair
type HeaderDto struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// ActionDto announces the action about to execute
type ActionDto struct {
	Index   int         `json:"index"`
	Name    string      `json:"name,omitempty"`
	RPCCall *RPCCallDto `json:"rpcCall,omitempty"`
}

// RPCCallDto asks the driver to invoke an RPC method on our behalf
type RPCCallDto struct {
	InterfaceID   string          `json:"interfaceId"`
	ActionName    string          `json:"actionName"`
	RequestParams json.RawMessage `json:"requestParams,omitempty"`
}

// ActionResponseDto is returned by newAction when the driver executed an RPC call
type ActionResponseDto struct {
	Index       int             `json:"index"`
	RPCResponse json.RawMessage `json:"rpcResponse,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// TestResultsDto is the coverage snapshot since the last reset
type TestResultsDto struct {
	Targets         []TargetInfoDto      `json:"targets"`
	AdditionalInfo  []AdditionalInfoDto  `json:"additionalInfoList,omitempty"`
	ExtraHeuristics []ExtraHeuristicsDto `json:"extraHeuristics,omitempty"`
}

// TargetInfoDto is the heuristic value of one coverage target
type TargetInfoDto struct {
	ID            int     `json:"id"`
	DescriptiveID string  `json:"descriptiveId,omitempty"`
	Value         float64 `json:"value"`
	ActionIndex   int     `json:"actionIndex"`
}

// AdditionalInfoDto carries per-action taint information
type AdditionalInfoDto struct {
	QueryParameters       []string            `json:"queryParameters,omitempty"`
	Headers               []string            `json:"headers,omitempty"`
	StringSpecializations map[string][]string `json:"stringSpecializations,omitempty"`
}

// ExtraHeuristicsDto carries heuristics not expressible as coverage
type ExtraHeuristicsDto struct {
	Heuristics []HeuristicEntryDto `json:"heuristics,omitempty"`
}

// HeuristicEntryDto is one distance measure, lower is better
type HeuristicEntryDto struct {
	Type      string  `json:"type"`
	Objective string  `json:"objective"`
	ID        string  `json:"id"`
	Value     float64 `json:"value"`
}

// DatabaseCommandDto is a raw setup command
type DatabaseCommandDto struct {
	Command    string         `json:"command,omitempty"`
	Insertions []InsertionDto `json:"insertions,omitempty"`
}

// InsertionDto inserts one row
type InsertionDto struct {
	TargetTable string              `json:"targetTable"`
	Data        []InsertionEntryDto `json:"data"`
}

// InsertionEntryDto is one column value of an insertion
type InsertionEntryDto struct {
	VariableName   string `json:"variableName"`
	PrintableValue string `json:"printableValue"`
}

// TestResultsQuery selects what testResults reports
type TestResultsQuery struct {
	// IDs restricts the report to these numeric targets, empty means all
	IDs []int
	// KillSwitch asks the SUT instrumentation to stop the current request
	KillSwitch bool
	// AllCovered also reports targets already covered in earlier tests
	AllCovered bool
}
