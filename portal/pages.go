package portal

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/umputun/commons-uitest/settings"
)

// pageData is passed to every commons page
type pageData struct {
	Title   string
	User    *session
	Version string
	Data    any
}

// dictionaryNode is a node of the data dictionary
type dictionaryNode struct {
	Name        string
	Category    string
	Description string
}

var dictionary = []dictionaryNode{
	{Name: "Program", Category: "administrative",
		Description: "A broad framework of goals to be achieved by one or more projects."},
	{Name: "Project", Category: "administrative",
		Description: "Any specifically defined piece of work that is undertaken or attempted to meet a single requirement."},
	{Name: "Case", Category: "administrative",
		Description: "The collection of all data related to a specific subject in the context of a specific project."},
	{Name: "Sample", Category: "biospecimen",
		Description: "Any material sample taken from a biological entity for testing, diagnostic, propagation, treatment or research purposes."},
	{Name: "Submitted Unaligned Reads", Category: "data_file",
		Description: "Data file containing unaligned reads that have not been GDC Harmonized."},
}

// dataset is an entry of the data library
type dataset struct {
	Name     string
	Access   string
	Subjects int
}

var controlledDatasets = []dataset{
	{Name: "Cohort A genomic variants", Access: "controlled", Subjects: 1250},
	{Name: "Cohort B clinical follow-up", Access: "controlled", Subjects: 480},
}

// handleHome renders the homepage
func (p *Portal) handleHome(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "home", "Home", nil)
}

// handleDictionary renders the data dictionary in table or graph view
func (p *Portal) handleDictionary(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Graph bool
		Nodes []dictionaryNode
	}{
		Graph: r.URL.Query().Get("view") == "graph",
		Nodes: dictionary,
	}
	p.render(w, r, "dictionary", "Dictionary", data)
}

// handleExplorer renders the exploration tabs, files tab by default
func (p *Portal) handleExplorer(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	if tab != "cases" {
		tab = "files"
	}
	p.render(w, r, "explorer", "Exploration", struct{ Tab string }{Tab: tab})
}

// handleQuery renders the graph query page
func (p *Portal) handleQuery(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "query", "Query", nil)
}

// handleAnalysis renders the analysis apps page
func (p *Portal) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "analysis", "Analysis", nil)
}

// handleWorkspace renders the workspace page, protected
func (p *Portal) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "workspace", "Workspace", nil)
}

// handleIdentity renders the user profile, protected
func (p *Portal) handleIdentity(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "identity", "Profile", nil)
}

// handleLibrary renders the data library. Controlled datasets are listed for privileged users only.
func (p *Portal) handleLibrary(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Privileged bool
		Datasets   []dataset
	}{}
	if user, ok := p.currentUser(r); ok && user.Role == settings.Tier3 {
		data.Privileged, data.Datasets = true, controlledDatasets
	}
	p.render(w, r, "library", "Data Library", data)
}

// handleDocs renders the documentation page
func (p *Portal) handleDocs(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "docs", "Documentation", p.docs)
}

// handleUserInfo returns the current user as json, 401 for anonymous requests
func (p *Portal) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := p.currentUser(r)
	if !ok {
		rest.SendErrorJSON(w, r, lgr.Default(), http.StatusUnauthorized, errors.New("no session"), "not logged in")
		return
	}
	rest.RenderJSON(w, user)
}

// render executes the page template within the layout
func (p *Portal) render(w http.ResponseWriter, r *http.Request, page, title string, data any) {
	tmpl, ok := p.pages[page]
	if !ok {
		log.Printf("[ERROR] no template for page %s", page)
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	pd := pageData{Title: title, Version: p.Version, Data: data}
	if user, ok := p.currentUser(r); ok {
		pd.User = &user
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout", pd); err != nil {
		log.Printf("[ERROR] failed to execute %s template: %v", page, err)
		http.Error(w, fmt.Sprintf("template rendering error: %v", err), http.StatusInternalServerError)
	}
}
