package registry

// Tool categories. Used only for catalog listings; they carry no
// authorization semantics.
const (
	CategoryNetwork     = "network"
	CategoryWeb         = "web"
	CategoryPassword    = "password"
	CategoryWireless    = "wireless"
	CategoryExploit     = "exploitation"
	CategoryEnumeration = "enumeration"
	CategoryDNS         = "dns"
	CategoryDiagnostic  = "diagnostic"
)

// builtinTools is the closed startup allow-list. Operator extensions are
// merged on top after passing tool-name validation; nothing else can be
// executed.
var builtinTools = []Descriptor{
	{Name: "nmap", Category: CategoryNetwork},
	{Name: "sqlmap", Category: CategoryWeb},
	{Name: "hydra", Category: CategoryPassword},
	{Name: "john", Category: CategoryPassword},
	{Name: "nikto", Category: CategoryWeb},
	{Name: "aircrack-ng", Category: CategoryWireless},
	{Name: "metasploit-framework", Category: CategoryExploit},
	{Name: "gobuster", Category: CategoryWeb},
	{Name: "dirb", Category: CategoryWeb},
	{Name: "wfuzz", Category: CategoryWeb},
	{Name: "cewl", Category: CategoryPassword},
	{Name: "hashcat", Category: CategoryPassword},
	{Name: "crunch", Category: CategoryPassword},
	{Name: "medusa", Category: CategoryPassword},
	{Name: "ncrack", Category: CategoryPassword},
	{Name: "enum4linux", Category: CategoryEnumeration},
	{Name: "smbclient", Category: CategoryEnumeration},
	{Name: "rpcclient", Category: CategoryEnumeration},
	{Name: "ldapsearch", Category: CategoryEnumeration},
	{Name: "dig", Category: CategoryDNS},
	{Name: "nslookup", Category: CategoryDNS},
	{Name: "whois", Category: CategoryDNS},
	{Name: "traceroute", Category: CategoryDiagnostic},
	{Name: "ping", Category: CategoryDiagnostic},
	{Name: "netstat", Category: CategoryDiagnostic},
	{Name: "ss", Category: CategoryDiagnostic},
}
